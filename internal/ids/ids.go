// file: internal/ids/ids.go
// version: 1.0.0
// guid: 112937d6-260c-49d0-a16c-063703029bc5

// Package ids derives catalog identifiers from source file paths.
package ids

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Strategy names.
const (
	StrategyFilename  = "filename_based"
	StrategyTimestamp = "timestamp_based"
	StrategyUUID      = "uuid_based"
)

// FallbackID is used when a stem sanitises to nothing.
const FallbackID = "video"

var (
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_.\-]`)
	dashRuns   = regexp.MustCompile(`-+`)
)

// Generator derives ids for one configured strategy. Only the filename
// strategy is stable across calls.
type Generator struct {
	strategy string
	legacy   map[string]string
	now      func() time.Time
	newUUID  func() string
}

// NewGenerator validates strategy and returns a Generator. legacy maps raw
// file stems to fixed ids.
func NewGenerator(strategy string, legacy map[string]string) (*Generator, error) {
	switch strategy {
	case "":
		strategy = StrategyFilename
	case StrategyFilename, StrategyTimestamp, StrategyUUID:
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
	table := make(map[string]string, len(legacy))
	for k, v := range legacy {
		table[k] = v
	}
	return &Generator{
		strategy: strategy,
		legacy:   table,
		now:      time.Now,
		newUUID:  func() string { return uuid.NewString() },
	}, nil
}

// Strategy returns the configured strategy name.
func (g *Generator) Strategy() string { return g.strategy }

// Stable reports whether repeated calls for one path return the same id.
func (g *Generator) Stable() bool { return g.strategy == StrategyFilename }

// ID returns the identifier for path.
func (g *Generator) ID(path string) string {
	stem := Stem(path)
	switch g.strategy {
	case StrategyTimestamp:
		return strings.ToLower(stem) + "-" + strconv.FormatInt(g.now().Unix(), 10)
	case StrategyUUID:
		return g.newUUID()
	default:
		if mapped, ok := g.legacy[stem]; ok {
			return mapped
		}
		return Sanitize(stem)
	}
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Sanitize normalises s into a URL- and filename-safe lower-case id.
func Sanitize(s string) string {
	s = norm.NFKC.String(s)
	s = disallowed.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	s = strings.ToLower(s)
	if s == "" {
		return FallbackID
	}
	return s
}
