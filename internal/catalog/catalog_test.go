// file: internal/catalog/catalog_test.go
// version: 1.1.0
// guid: ce1fb807-3abc-4dee-b165-1aa056b1134c

package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = MergePolicy{
	TitlePatterns:       []string{"- ", "lecture-video", "one-on-one", "视频"},
	DescriptionPatterns: []string{"Automatically generated video content."},
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "videos.json"), testPolicy, zerolog.Nop())
}

func rec(id, title string) Record {
	return Record{
		ID:          id,
		Title:       title,
		Description: "Automatically generated video content.",
		Thumbnail:   "thumbnails/" + id + ".jpg",
		StreamURL:   "hls_videos_optimized/" + id + ".m3u8",
		Duration:    "01:00",
	}
}

func TestUpsertAddsAndSorts(t *testing.T) {
	s := newStore(t)

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		outcome, err := s.Upsert(rec(id, "Video - "+id))
		require.NoError(t, err)
		assert.Equal(t, Added, outcome)
	}

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alpha", records[0].ID)
	assert.Equal(t, "bravo", records[1].ID)
	assert.Equal(t, "charlie", records[2].ID)
}

func TestUpsertWritesIndentedJSON(t *testing.T) {
	s := newStore(t)
	_, err := s.Upsert(rec("a", "Lecture & Notes - 1"))
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "[\n  {\n    \"id\": \"a\","), text)
	assert.Contains(t, text, "Lecture & Notes")
}

func TestMergeProtectsUserEdits(t *testing.T) {
	s := newStore(t)

	existing := rec("a", "My Custom Title")
	existing.Description = "Hand written notes"
	_, err := s.Upsert(existing)
	require.NoError(t, err)

	incoming := rec("a", "Video - auto")
	incoming.Duration = "02:30"
	incoming.Thumbnail = "thumbnails/a-new.jpg"
	outcome, err := s.Upsert(incoming)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	got, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "My Custom Title", got.Title)
	assert.Equal(t, "Hand written notes", got.Description)
	assert.Equal(t, "02:30", got.Duration)
	assert.Equal(t, "thumbnails/a-new.jpg", got.Thumbnail)
}

func TestMergeReplacesBlankAndAutoValues(t *testing.T) {
	s := newStore(t)

	blank := rec("a", "")
	blank.Description = "   "
	_, err := s.Upsert(blank)
	require.NoError(t, err)
	_, err = s.Upsert(rec("b", "Lecture - Video 1"))
	require.NoError(t, err)

	_, err = s.Upsert(rec("a", "Video - auto"))
	require.NoError(t, err)
	_, err = s.Upsert(rec("b", "Lecture - Video 2"))
	require.NoError(t, err)

	a, _, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "Video - auto", a.Title)
	assert.Equal(t, "Automatically generated video content.", a.Description)

	b, _, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "Lecture - Video 2", b.Title)
}

func TestUniqueIDs(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Upsert(rec("same", "Video - same"))
		require.NoError(t, err)
	}
	records, err := s.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestUpsertCollapsesHandEditedDuplicates(t *testing.T) {
	s := newStore(t)
	initial := `[{"id":"a","title":"Kept"},{"id":"b","title":"Other"},{"id":"a","title":"Dropped"}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(initial), 0o644))

	outcome, err := s.Upsert(rec("a", "Video - a"))
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "Kept", records[0].Title)
	assert.Equal(t, "b", records[1].ID)

	ids := map[string]int{}
	for _, r := range records {
		ids[r.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "id %s repeated", id)
	}
}

func TestNumericDurationLoads(t *testing.T) {
	s := newStore(t)
	initial := `[{"id":"a","title":"Mine","duration":123},{"id":"b","title":"Null","duration":null}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(initial), 0o644))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "123", records[0].Duration)
	assert.Equal(t, "", records[1].Duration)

	_, err = s.Upsert(rec("c", "Video - c"))
	require.NoError(t, err)
	_, statErr := os.Stat(s.BackupPath())
	assert.True(t, os.IsNotExist(statErr))

	got, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Mine", got.Title)
	assert.Equal(t, "123", got.Duration)
}

func TestNonScalarDurationIsCorrupt(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[{"id":"a","duration":{"s":1}}]`), 0o644))

	_, err := s.List()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestListLeavesCorruptCatalogInPlace(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.List()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	data, readErr := os.ReadFile(s.Path())
	require.NoError(t, readErr)
	assert.Equal(t, "{not json", string(data))
	_, statErr := os.Stat(s.BackupPath())
	assert.True(t, os.IsNotExist(statErr))

	_, _, err = s.Get("a")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestExtraFieldsPreserved(t *testing.T) {
	s := newStore(t)
	initial := `[{"id":"a","title":"Mine","description":"","thumbnail":"","stream_url":"","duration":"","tags":["x","y"],"featured":true}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(initial), 0o644))

	_, err := s.Upsert(rec("a", "Video - a"))
	require.NoError(t, err)

	got, _, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Title)
	require.Contains(t, got.Extra, "tags")
	assert.JSONEq(t, `["x","y"]`, string(got.Extra["tags"]))
	assert.JSONEq(t, `true`, string(got.Extra["featured"]))
}

func TestCorruptCatalogRecovered(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	outcome, err := s.Upsert(rec("a", "Video - a"))
	require.NoError(t, err)
	assert.Equal(t, Added, outcome)

	backup, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(backup))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}

func TestEmptyFileIsEmptyCatalog(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), nil, 0o644))

	records, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, records)
	_, statErr := os.Stat(s.BackupPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFailedRenameLeavesCatalogIntact(t *testing.T) {
	s := newStore(t)
	_, err := s.Upsert(rec("a", "Video - a"))
	require.NoError(t, err)
	before, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	renameFile = func(string, string) error { return errors.New("power cut") }
	t.Cleanup(func() { renameFile = os.Rename })

	_, err = s.Upsert(rec("b", "Video - b"))
	require.Error(t, err)

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	var parsed []Record
	require.NoError(t, json.Unmarshal(after, &parsed))
	assert.Len(t, parsed, 1)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestConcurrentUpserts(t *testing.T) {
	s := newStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(rec(fmt.Sprintf("v%02d", i), "Video - x"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	records, err := s.List()
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestTwoStoresShareFileSafely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.json")
	a := New(path, testPolicy, zerolog.Nop())
	b := New(path, testPolicy, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = a.Upsert(rec(fmt.Sprintf("a%02d", i), "Video - a"))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Upsert(rec(fmt.Sprintf("b%02d", i), "Video - b"))
		}(i)
	}
	wg.Wait()

	records, err := a.List()
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	s := newStore(t)
	_, err := s.Upsert(Record{ID: "  "})
	assert.Error(t, err)
}

func TestMergePolicy(t *testing.T) {
	assert.True(t, testPolicy.IsAutoGenerated("title", "Lecture-Video-1"))
	assert.True(t, testPolicy.IsAutoGenerated("title", "讲课视频1"))
	assert.False(t, testPolicy.IsAutoGenerated("title", "My Custom Title"))
	assert.False(t, testPolicy.IsAutoGenerated("description", "automatically generated video content."))
	assert.False(t, testPolicy.IsAutoGenerated("thumbnail", "- "))
}
