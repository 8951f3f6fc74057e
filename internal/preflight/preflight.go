// file: internal/preflight/preflight.go
// version: 1.0.0
// guid: 257d33db-d75d-4258-89fd-8057ae273f08

// Package preflight verifies external binaries and writable directories
// before the processor starts watching.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jdfalk/video-autoprocessor/internal/config"
	"github.com/jdfalk/video-autoprocessor/internal/ffmpeg"
)

var (
	// ErrMissingBinary is returned when ffmpeg or ffprobe cannot be found.
	ErrMissingBinary = errors.New("required binary not found")
	// ErrNotWritable is returned when a working directory cannot be written.
	ErrNotWritable = errors.New("directory not writable")
)

// versionTimeout bounds the ffmpeg -version capability probe.
const versionTimeout = 10 * time.Second

// Result reports the outcome of a single check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
	err    error
}

// Requirement is an external binary the processor relies on.
type Requirement struct {
	Name    string
	Command string
}

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(reqs []Requirement) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		cmd := strings.TrimSpace(req.Command)
		if cmd == "" {
			results = append(results, Result{
				Name:   req.Name,
				Detail: "command not configured",
				err:    fmt.Errorf("%s: %w", req.Name, ErrMissingBinary),
			})
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			results = append(results, Result{
				Name:   req.Name,
				Detail: fmt.Sprintf("binary %q not found", cmd),
				err:    fmt.Errorf("%s %q: %w", req.Name, cmd, ErrMissingBinary),
			})
			continue
		}
		results = append(results, Result{Name: req.Name, Passed: true, Detail: resolved})
	}
	return results
}

// CheckDirectory creates path when missing and verifies a file can be
// written inside it.
func CheckDirectory(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured", err: fmt.Errorf("%s: %w", name, ErrNotWritable)}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Result{
			Name:   name,
			Detail: fmt.Sprintf("%s (error: create: %v)", path, err),
			err:    fmt.Errorf("%s %s: %w: %v", name, path, ErrNotWritable, err),
		}
	}
	probe, err := os.CreateTemp(path, ".write-test-*")
	if err != nil {
		return Result{
			Name:   name,
			Detail: fmt.Sprintf("%s (error: %v)", path, err),
			err:    fmt.Errorf("%s %s: %w: %v", name, path, ErrNotWritable, err),
		}
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// Report is the combined outcome of RunAll.
type Report struct {
	Results       []Result
	FFmpegVersion string
}

// Err joins the errors of every failed check, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}
	return errors.Join(errs...)
}

// RunAll checks the ffmpeg binaries and every configured directory.
func RunAll(ctx context.Context, cfg *config.Config) Report {
	var report Report
	report.Results = CheckBinaries([]Requirement{
		{Name: "ffmpeg", Command: cfg.Processing.FFmpegPath},
		{Name: "ffprobe", Command: cfg.Processing.FFprobePath},
	})

	dirs := cfg.OutputDirs()
	names := make([]string, 0, len(dirs))
	for name := range dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Results = append(report.Results, CheckDirectory(name, filepath.Clean(dirs[name])))
	}

	if report.Results[0].Passed {
		vctx, cancel := context.WithTimeout(ctx, versionTimeout)
		defer cancel()
		if v, err := ffmpeg.Version(vctx, cfg.Processing.FFmpegPath); err == nil {
			report.FFmpegVersion = v
		}
	}
	return report
}
