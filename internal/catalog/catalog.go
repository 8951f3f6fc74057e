// file: internal/catalog/catalog.go
// version: 1.1.0
// guid: 1860ade7-ebb6-4aab-89fa-29098599a903

// Package catalog maintains the JSON list of published videos. Writes are
// merged, sorted and replaced atomically.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// ErrCorrupt is returned by read-only calls when the catalog cannot be
// parsed. Only Upsert moves a corrupt file aside.
var ErrCorrupt = errors.New("catalog is corrupt")

// renameFile is replaced in tests to simulate an interrupted commit.
var renameFile = os.Rename

// Outcome reports what Upsert did.
type Outcome int

const (
	// Added means the id was new.
	Added Outcome = iota
	// Updated means an existing record was merged.
	Updated
)

func (o Outcome) String() string {
	if o == Added {
		return "added"
	}
	return "updated"
}

// MergePolicy decides whether an existing protected field still holds a
// machine-generated value that may be replaced.
type MergePolicy struct {
	TitlePatterns       []string
	DescriptionPatterns []string
}

// IsAutoGenerated reports whether value for field matches the policy.
// Title patterns match case-insensitively.
func (p MergePolicy) IsAutoGenerated(field, value string) bool {
	switch field {
	case "title":
		lower := strings.ToLower(value)
		for _, pat := range p.TitlePatterns {
			if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
				return true
			}
		}
	case "description":
		for _, pat := range p.DescriptionPatterns {
			if pat != "" && strings.Contains(value, pat) {
				return true
			}
		}
	}
	return false
}

// Store is the catalog file. All mutations hold mu and an advisory lock on
// <path>.lock.
type Store struct {
	path   string
	policy MergePolicy
	logger zerolog.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a Store for path.
func New(path string, policy MergePolicy, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		policy: policy,
		logger: logger.With().Str("component", "catalog").Logger(),
		lock:   flock.New(path + ".lock"),
	}
}

// Path returns the catalog file path.
func (s *Store) Path() string { return s.path }

// BackupPath is where a corrupt catalog is moved.
func (s *Store) BackupPath() string { return s.path + ".backup" }

// Upsert adds rec or merges it into the existing record with the same id,
// then rewrites the catalog sorted by id.
func (s *Store) Upsert(rec Record) (Outcome, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return Added, errors.New("catalog: record id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockFile(); err != nil {
		return Added, err
	}
	defer s.unlockFile()

	records, err := s.load(true)
	if err != nil {
		return Added, err
	}
	records = s.dedupe(records)

	outcome := Added
	idx := -1
	for i := range records {
		if records[i].ID == rec.ID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		records[idx] = s.merge(records[idx], rec)
		outcome = Updated
	} else {
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	if err := s.write(records); err != nil {
		return outcome, err
	}
	s.logger.Info().Str("video_id", rec.ID).Str("outcome", outcome.String()).Int("total", len(records)).Msg("catalog updated")
	return outcome, nil
}

// List returns every record in file order. It never modifies the file; a
// corrupt catalog yields ErrCorrupt.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockFile(); err != nil {
		return nil, err
	}
	defer s.unlockFile()
	return s.load(false)
}

// Get returns the record with id.
func (s *Store) Get(id string) (Record, bool, error) {
	records, err := s.List()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// merge replaces technical fields unconditionally and protected fields only
// when the existing value is blank or auto-generated.
func (s *Store) merge(existing, incoming Record) Record {
	merged := existing
	merged.ID = incoming.ID
	merged.Thumbnail = incoming.Thumbnail
	merged.StreamURL = incoming.StreamURL
	merged.Duration = incoming.Duration

	if s.replaceable("title", existing.Title) {
		merged.Title = incoming.Title
	} else {
		s.logger.Debug().Str("video_id", existing.ID).Str("title", existing.Title).Msg("keeping edited title")
	}
	if s.replaceable("description", existing.Description) {
		merged.Description = incoming.Description
	} else {
		s.logger.Debug().Str("video_id", existing.ID).Msg("keeping edited description")
	}
	return merged
}

func (s *Store) replaceable(field, value string) bool {
	return strings.TrimSpace(value) == "" || s.policy.IsAutoGenerated(field, value)
}

// dedupe keeps the first record for each id. Later duplicates, which only a
// hand edit can introduce, are dropped.
func (s *Store) dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			s.logger.Warn().Str("video_id", r.ID).Str("title", r.Title).Msg("dropping duplicate catalog record")
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// load reads the catalog. A missing or empty file is an empty catalog. An
// unparsable one is moved aside and treated as empty when moveAside is set,
// otherwise it is reported as ErrCorrupt.
func (s *Store) load(moveAside bool) ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		if !moveAside {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		s.logger.Error().Err(err).Str("path", s.path).Msg("catalog is corrupt")
		if renameErr := os.Rename(s.path, s.BackupPath()); renameErr != nil {
			s.logger.Error().Err(renameErr).Msg("failed to move corrupt catalog aside")
		} else {
			s.logger.Warn().Str("backup", s.BackupPath()).Msg("corrupt catalog moved aside, starting empty")
		}
		return nil, nil
	}
	return records, nil
}

// write replaces the catalog via a synced temp file in the same directory.
func (s *Store) write(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp catalog: %w", err)
	}
	if err := renameFile(tmpPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func (s *Store) lockFile() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock catalog: %w", err)
	}
	return nil
}

func (s *Store) unlockFile() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release catalog lock")
	}
}
