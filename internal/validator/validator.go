// file: internal/validator/validator.go
// version: 1.0.0
// guid: 02b2d1c0-c32a-4004-baeb-7d1d5d28e694

// Package validator decides whether a path is a video worth processing and
// whether it has finished being written.
package validator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStabilityDelay is the pause between the two size samples.
const DefaultStabilityDelay = time.Second

// probeBytes is the size of the read probe performed on ready files.
const probeBytes = 1024

// Options configures a Validator.
type Options struct {
	Extensions     []string
	IgnorePatterns []string
	MaxFileSize    int64
	StabilityDelay time.Duration
}

// Validator filters candidate paths and checks file readiness.
// It holds no per-path state.
type Validator struct {
	extensions     map[string]bool
	ignorePatterns []string
	maxFileSize    int64
	stabilityDelay time.Duration
	logger         zerolog.Logger
}

// New creates a Validator.
func New(opts Options, logger zerolog.Logger) *Validator {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	delay := opts.StabilityDelay
	if delay < 0 {
		delay = 0
	}
	return &Validator{
		extensions:     exts,
		ignorePatterns: opts.IgnorePatterns,
		maxFileSize:    opts.MaxFileSize,
		stabilityDelay: delay,
		logger:         logger.With().Str("component", "validator").Logger(),
	}
}

// IsCandidate reports whether path has an allowed extension and its base
// name matches none of the ignore patterns. The filesystem is not touched.
func (v *Validator) IsCandidate(path string) bool {
	if path == "" {
		return false
	}
	base := filepath.Base(path)
	if !v.extensions[strings.ToLower(filepath.Ext(base))] {
		return false
	}
	for _, pattern := range v.ignorePatterns {
		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return false
		}
	}
	return true
}

// IsReady reports whether path is a non-empty regular file within the size
// limit whose size is unchanged across the stability delay and which can be
// opened and read. Any failure yields false.
func (v *Validator) IsReady(ctx context.Context, path string) bool {
	first, ok := v.sample(path)
	if !ok {
		return false
	}

	if v.stabilityDelay > 0 {
		timer := time.NewTimer(v.stabilityDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}

	second, ok := v.sample(path)
	if !ok {
		return false
	}
	if first != second {
		v.logger.Debug().Str("path", path).Int64("before", first).Int64("after", second).Msg("file still growing")
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		v.logger.Debug().Err(err).Str("path", path).Msg("file not readable")
		return false
	}
	defer f.Close()

	buf := make([]byte, probeBytes)
	if _, err := f.Read(buf); err != nil && err != io.EOF {
		v.logger.Debug().Err(err).Str("path", path).Msg("read probe failed")
		return false
	}
	return true
}

func (v *Validator) sample(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		v.logger.Debug().Err(err).Str("path", path).Msg("stat failed")
		return 0, false
	}
	if !info.Mode().IsRegular() {
		return 0, false
	}
	size := info.Size()
	if size <= 0 {
		v.logger.Debug().Str("path", path).Msg("empty file")
		return 0, false
	}
	if v.maxFileSize > 0 && size > v.maxFileSize {
		v.logger.Debug().Str("path", path).Int64("size", size).Msg("file exceeds size limit")
		return 0, false
	}
	return size, true
}
