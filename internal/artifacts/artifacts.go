// file: internal/artifacts/artifacts.go
// version: 1.1.0
// guid: f8fe063d-6acb-417e-8010-3dcb79e79139

// Package artifacts names the outputs produced for a video and decides
// whether a source still needs processing.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Default artifact extensions.
const (
	DefaultManifestExt  = ".m3u8"
	DefaultSegmentExt   = ".ts"
	DefaultThumbnailExt = ".jpg"
)

// Layout maps a video id onto artifact paths and catalog URLs.
type Layout struct {
	StreamDir    string
	ThumbnailDir string
	ManifestExt  string
	SegmentExt   string
	ThumbnailExt string
}

// NewLayout returns a Layout with the default extensions.
func NewLayout(streamDir, thumbnailDir string) Layout {
	return Layout{
		StreamDir:    streamDir,
		ThumbnailDir: thumbnailDir,
		ManifestExt:  DefaultManifestExt,
		SegmentExt:   DefaultSegmentExt,
		ThumbnailExt: DefaultThumbnailExt,
	}
}

// ManifestPath returns <stream>/<id>.m3u8.
func (l Layout) ManifestPath(id string) string {
	return filepath.Join(l.StreamDir, id+l.ManifestExt)
}

// SegmentPattern returns the printf-style segment template handed to the
// transcoder: <stream>/<id>-%03d.ts.
func (l Layout) SegmentPattern(id string) string {
	return filepath.Join(l.StreamDir, id+"-%03d"+l.SegmentExt)
}

// ThumbnailPath returns <thumbs>/<id>.jpg.
func (l Layout) ThumbnailPath(id string) string {
	return filepath.Join(l.ThumbnailDir, id+l.ThumbnailExt)
}

// StreamURL is the catalog reference to the manifest, relative to the
// catalog's directory.
func (l Layout) StreamURL(id string) string {
	return filepath.ToSlash(filepath.Join(filepath.Base(l.StreamDir), id+l.ManifestExt))
}

// ThumbnailURL is the catalog reference to the thumbnail.
func (l Layout) ThumbnailURL(id string) string {
	return filepath.ToSlash(filepath.Join(filepath.Base(l.ThumbnailDir), id+l.ThumbnailExt))
}

// Segments lists the segment files written for id, sorted by name. Only
// names of the form <id>-<digits><ext> match, so ids sharing a prefix do not
// see each other's segments.
func (l Layout) Segments(id string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.StreamDir, globEscape(id)+"-*"+l.SegmentExt))
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	out := matches[:0]
	for _, m := range matches {
		seq := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), id+"-"), l.SegmentExt)
		if seq != "" && strings.Trim(seq, "0123456789") == "" {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RemoveStream deletes the manifest and segments left for id by an earlier
// run. Missing files are not an error.
func (l Layout) RemoveStream(id string) error {
	segments, err := l.Segments(id)
	if err != nil {
		return err
	}
	for _, path := range append(segments, l.ManifestPath(id)) {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// RemoveThumbnail deletes the thumbnail left for id by an earlier run.
func (l Layout) RemoveThumbnail(id string) error {
	return removeIfExists(l.ThumbnailPath(id))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale output: %w", err)
	}
	return nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// IDFunc derives the video id for a source path.
type IDFunc func(path string) string

// Checker decides whether a source needs (re)processing. Results are never
// cached.
type Checker struct {
	layout Layout
	id     IDFunc
	logger zerolog.Logger
}

// NewChecker creates a Checker.
func NewChecker(layout Layout, id IDFunc, logger zerolog.Logger) *Checker {
	return &Checker{
		layout: layout,
		id:     id,
		logger: logger.With().Str("component", "artifacts").Logger(),
	}
}

// NeedsProcessing reports true when the manifest or thumbnail is missing,
// when the source is newer than the manifest, or when the source vanished
// mid-check.
func (c *Checker) NeedsProcessing(path string) bool {
	id := c.id(path)
	manifest := c.layout.ManifestPath(id)
	thumb := c.layout.ThumbnailPath(id)

	manifestInfo, err := os.Stat(manifest)
	if err != nil {
		c.logger.Debug().Str("path", path).Str("video_id", id).Msg("manifest missing")
		return true
	}
	if _, err := os.Stat(thumb); err != nil {
		c.logger.Debug().Str("path", path).Str("video_id", id).Msg("thumbnail missing")
		return true
	}

	srcInfo, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", path).Msg("cannot stat source")
		}
		return true
	}
	if srcInfo.ModTime().After(manifestInfo.ModTime()) {
		c.logger.Debug().Str("path", path).Str("video_id", id).Msg("source newer than manifest")
		return true
	}
	return false
}
