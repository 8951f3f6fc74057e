// file: internal/mediainfo/mediainfo.go
// version: 2.0.0
// guid: ea610383-656b-4851-b4db-e21113d7f78f

// Package mediainfo reads descriptive tags embedded in a video container.
package mediainfo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// ErrNoTags is returned when the container carries no readable tags.
var ErrNoTags = errors.New("mediainfo: no embedded tags")

// Tags holds embedded descriptive metadata.
type Tags struct {
	Title    string
	Comment  string
	Artist   string
	Album    string
	Year     int
	FileType string
}

// HasTitle reports whether a usable embedded title exists.
func (t *Tags) HasTitle() bool {
	return t != nil && strings.TrimSpace(t.Title) != ""
}

// Read extracts tags from path. Files without a supported tag block yield
// ErrNoTags.
func Read(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return nil, ErrNoTags
		}
		return nil, fmt.Errorf("%w: %v", ErrNoTags, err)
	}

	t := &Tags{
		Title:    clean(m.Title()),
		Comment:  clean(m.Comment()),
		Artist:   clean(m.Artist()),
		Album:    clean(m.Album()),
		Year:     m.Year(),
		FileType: string(m.FileType()),
	}
	if t.Title == "" && t.Comment == "" && t.Artist == "" && t.Album == "" {
		return nil, ErrNoTags
	}
	return t, nil
}

func clean(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}
