// file: internal/pipeline/pipeline.go
// version: 1.1.0
// guid: faccc756-f39d-4276-b0a8-b873696eda5f

// Package pipeline runs the per-file processing stages: analysis, backup,
// transcode, thumbnail and catalog commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jdfalk/video-autoprocessor/internal/artifacts"
	"github.com/jdfalk/video-autoprocessor/internal/backup"
	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/ffmpeg"
	"github.com/jdfalk/video-autoprocessor/internal/gate"
	"github.com/jdfalk/video-autoprocessor/internal/mediainfo"
	"github.com/jdfalk/video-autoprocessor/internal/metrics"
)

// Stage names used in errors, logs and metrics.
const (
	StageIdentify  = "identify"
	StageAnalyze   = "analyze"
	StageBackup    = "backup"
	StageTranscode = "transcode"
	StageThumbnail = "thumbnail"
	StageCatalog   = "catalog"
)

// DefaultProgressInterval is the minimum gap between progress log lines.
const DefaultProgressInterval = 5 * time.Second

// Prober analyses a source video.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.Info, error)
}

// Encoder produces the stream and thumbnail.
type Encoder interface {
	TranscodeHLS(ctx context.Context, src, manifest, segmentPattern string, durationSeconds float64, progress ffmpeg.ProgressFunc) error
	ExtractFrame(ctx context.Context, src, dst string, at time.Duration) error
}

// Catalog records the finished video.
type Catalog interface {
	Upsert(rec catalog.Record) (catalog.Outcome, error)
}

// Backupper snapshots a directory before it is overwritten.
type Backupper interface {
	Snapshot(src string) (*backup.BackupInfo, error)
}

// Describer produces the default title and description for a source.
type Describer interface {
	Title(path string) string
	Description(path string) string
}

// IDSource derives the video id for a source.
type IDSource interface {
	ID(path string) string
}

// TagReader reads embedded container tags.
type TagReader func(path string) (*mediainfo.Tags, error)

// Task is one unit of work. The permit is released when Run returns.
type Task struct {
	Path     string
	VideoID  string
	RunID    string
	Permit   *gate.Permit
	Queued   time.Time
	Progress ffmpeg.ProgressFunc // optional; receives every transcode update
}

// StreamResult describes the transcoded output.
type StreamResult struct {
	Playlist   string
	Segments   int
	TotalBytes int64
}

// ThumbnailResult describes the extracted frame.
type ThumbnailResult struct {
	Path  string
	Bytes int64
	At    time.Duration
}

// Result is a successful run.
type Result struct {
	VideoID   string
	RunID     string
	Info      *ffmpeg.Info
	Stream    StreamResult
	Thumbnail ThumbnailResult
	Backup    *backup.BackupInfo
	Record    catalog.Record
	Outcome   catalog.Outcome
	Elapsed   time.Duration
}

// StageError wraps the failure of one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage name carried by err, or "unknown".
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	IDs       IDSource
	Prober    Prober
	Encoder   Encoder
	Catalog   Catalog
	Describer Describer
	Backupper Backupper // optional
	Tags      TagReader // optional
}

// Options configures a Pipeline.
type Options struct {
	Layout           artifacts.Layout
	LegacyOutputDir  string
	ProgressInterval time.Duration
}

// Pipeline runs tasks. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New creates a Pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Pipeline, error) {
	if deps.IDs == nil || deps.Prober == nil || deps.Encoder == nil || deps.Catalog == nil || deps.Describer == nil {
		return nil, errors.New("pipeline requires ids, prober, encoder, catalog and describer")
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run executes every stage for task. Any stage failure aborts the rest and
// nothing is committed to the catalog. The task's permit is released on
// every return path.
func (p *Pipeline) Run(ctx context.Context, task *Task) (*Result, error) {
	defer task.Permit.Release()

	start := time.Now()
	metrics.IncPipelineStarted()

	res, err := p.run(ctx, task)
	elapsed := time.Since(start)
	metrics.ObservePipelineDuration(elapsed)
	if err != nil {
		metrics.IncPipelineFailed(FailedStage(err))
		return nil, err
	}
	res.Elapsed = elapsed
	metrics.IncPipelineCompleted()
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, task *Task) (*Result, error) {
	if task.VideoID == "" {
		task.VideoID = p.deps.IDs.ID(task.Path)
	}
	if task.VideoID == "" {
		return nil, &StageError{Stage: StageIdentify, Err: errors.New("empty video id")}
	}
	log := p.logger.With().Str("video_id", task.VideoID).Str("path", task.Path).Str("run_id", task.RunID).Logger()
	res := &Result{VideoID: task.VideoID, RunID: task.RunID}

	if err := p.stage(StageAnalyze, func() error {
		info, err := p.deps.Prober.Probe(ctx, task.Path)
		if err != nil {
			return err
		}
		res.Info = info
		log.Info().
			Str("duration", info.DurationFormatted).
			Str("resolution", info.Resolution).
			Str("video_codec", info.VideoCodec).
			Str("audio_codec", info.AudioCodec).
			Float64("fps", info.FPS).
			Str("quality", info.Quality).
			Float64("size_mb", info.SizeMB()).
			Msg("analysis complete")
		return nil
	}); err != nil {
		return nil, err
	}

	if p.deps.Backupper != nil && p.opts.LegacyOutputDir != "" {
		_ = p.stage(StageBackup, func() error {
			info, err := p.deps.Backupper.Snapshot(p.opts.LegacyOutputDir)
			if err != nil {
				log.Warn().Err(err).Msg("backup failed, continuing")
				return nil
			}
			res.Backup = info
			return nil
		})
	}

	layout := p.opts.Layout
	if err := p.stage(StageTranscode, func() error {
		if err := os.MkdirAll(layout.StreamDir, 0o755); err != nil {
			return fmt.Errorf("create stream directory: %w", err)
		}
		if err := layout.RemoveStream(task.VideoID); err != nil {
			return err
		}
		manifest := layout.ManifestPath(task.VideoID)
		limiter := rate.NewLimiter(rate.Every(p.opts.ProgressInterval), 1)
		progress := func(pr ffmpeg.Progress) {
			if task.Progress != nil {
				task.Progress(pr)
			}
			if pr.Percent >= 100 || limiter.Allow() {
				log.Info().Str("progress", fmt.Sprintf("%.1f%%", pr.Percent)).Float64("elapsed_seconds", pr.ElapsedSeconds).Msg("transcoding")
			}
		}
		log.Info().Str("manifest", manifest).Msg("transcode started")
		if err := p.deps.Encoder.TranscodeHLS(ctx, task.Path, manifest, layout.SegmentPattern(task.VideoID), res.Info.DurationSeconds, progress); err != nil {
			return err
		}
		segments, err := layout.Segments(task.VideoID)
		if err != nil {
			return err
		}
		res.Stream = StreamResult{Playlist: manifest, Segments: len(segments), TotalBytes: sumSizes(segments)}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageThumbnail, func() error {
		if err := os.MkdirAll(layout.ThumbnailDir, 0o755); err != nil {
			return fmt.Errorf("create thumbnail directory: %w", err)
		}
		if err := layout.RemoveThumbnail(task.VideoID); err != nil {
			return err
		}
		dst := layout.ThumbnailPath(task.VideoID)
		at := ffmpeg.ThumbnailOffset(res.Info.DurationSeconds)
		if err := p.deps.Encoder.ExtractFrame(ctx, task.Path, dst, at); err != nil {
			return err
		}
		res.Thumbnail = ThumbnailResult{Path: dst, Bytes: sumSizes([]string{dst}), At: at}
		return nil
	}); err != nil {
		return nil, err
	}

	res.Record = p.record(task, res, log)
	if err := p.stage(StageCatalog, func() error {
		outcome, err := p.deps.Catalog.Upsert(res.Record)
		if err != nil {
			return err
		}
		res.Outcome = outcome
		metrics.IncCatalogWrite(outcome.String())
		return nil
	}); err != nil {
		return nil, err
	}

	log.Info().
		Int("segments", res.Stream.Segments).
		Float64("output_mb", float64(res.Stream.TotalBytes)/(1024*1024)).
		Float64("thumbnail_kb", float64(res.Thumbnail.Bytes)/1024).
		Str("catalog", res.Outcome.String()).
		Msg("processing summary")
	return res, nil
}

// record assembles the catalog entry. An embedded container title wins
// over the generated one.
func (p *Pipeline) record(task *Task, res *Result, log zerolog.Logger) catalog.Record {
	title := p.deps.Describer.Title(task.Path)
	if p.deps.Tags != nil {
		tags, err := p.deps.Tags(task.Path)
		switch {
		case err == nil && tags.HasTitle():
			title = tags.Title
		case err != nil && !errors.Is(err, mediainfo.ErrNoTags):
			log.Debug().Err(err).Msg("tag read failed")
		}
	}
	return catalog.Record{
		ID:          task.VideoID,
		Title:       title,
		Description: p.deps.Describer.Description(task.Path),
		Thumbnail:   p.opts.Layout.ThumbnailURL(task.VideoID),
		StreamURL:   p.opts.Layout.StreamURL(task.VideoID),
		Duration:    res.Info.DurationFormatted,
	}
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObserveStageDuration(name, time.Since(start))
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

func sumSizes(paths []string) int64 {
	var total int64
	for _, path := range paths {
		if st, err := os.Stat(path); err == nil {
			total += st.Size()
		}
	}
	return total
}
