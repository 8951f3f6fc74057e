// file: internal/processor/build.go
// version: 1.0.0
// guid: 4d918cc0-a80a-4fcc-8a2a-9e9630d30e5f

package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/artifacts"
	"github.com/jdfalk/video-autoprocessor/internal/backup"
	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/classifier"
	"github.com/jdfalk/video-autoprocessor/internal/config"
	"github.com/jdfalk/video-autoprocessor/internal/daemon"
	"github.com/jdfalk/video-autoprocessor/internal/ffmpeg"
	"github.com/jdfalk/video-autoprocessor/internal/health"
	"github.com/jdfalk/video-autoprocessor/internal/ids"
	"github.com/jdfalk/video-autoprocessor/internal/mediainfo"
	"github.com/jdfalk/video-autoprocessor/internal/pipeline"
	"github.com/jdfalk/video-autoprocessor/internal/preflight"
	"github.com/jdfalk/video-autoprocessor/internal/realtime"
	"github.com/jdfalk/video-autoprocessor/internal/validator"
	"github.com/jdfalk/video-autoprocessor/internal/watcher"
)

// Components is a fully wired processor and the pieces callers reach for
// directly.
type Components struct {
	Processor *Processor
	Catalog   *catalog.Store
	Layout    artifacts.Layout
	IDs       *ids.Generator
	Events    *realtime.EventHub
}

// FromConfig wires every component from cfg. With daemon set the processor
// takes the single-instance lock in the state directory on Start.
func FromConfig(cfg *config.Config, daemonMode bool, logger zerolog.Logger) (*Components, error) {
	gen, err := ids.NewGenerator(cfg.IDs.Strategy, cfg.IDs.LegacyNames)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}
	if !gen.Stable() {
		logger.Warn().Str("strategy", gen.Strategy()).Msg("non-deterministic id strategy: every event reprocesses the file")
	}

	layout := artifacts.NewLayout(cfg.Directories.HLSOutput, cfg.Directories.Thumbnails)
	store := catalog.New(cfg.Catalog.Path, catalog.MergePolicy{
		TitlePatterns:       cfg.Catalog.AutoTitlePatterns,
		DescriptionPatterns: cfg.AutoDescriptionPatterns(),
	}, logger)

	hls := ffmpeg.HLSOptions{
		SegmentSeconds: cfg.Processing.SegmentSeconds,
		VideoCodec:     cfg.Processing.VideoCodec,
		AudioCodec:     cfg.Processing.AudioCodec,
		Preset:         cfg.Processing.Preset,
		CRF:            cfg.Processing.CRF,
		MaxRate:        cfg.Processing.MaxRate,
		BufSize:        cfg.Processing.BufSize,
	}
	thumb := ffmpeg.ThumbnailOptions{
		Width:   cfg.Processing.ThumbnailWidth,
		Height:  cfg.Processing.ThumbnailHeight,
		Timeout: cfg.Processing.ThumbnailTimeout,
	}

	var backupper pipeline.Backupper
	if cfg.Directories.Backup != "" && cfg.Directories.LegacyOutput != "" {
		backupper = backup.NewManager(backup.BackupConfig{
			BackupDir:  cfg.Directories.Backup,
			MaxBackups: cfg.Processing.MaxBackups,
		}, logger)
	}

	pl, err := pipeline.New(pipeline.Deps{
		IDs:       gen,
		Prober:    ffmpeg.NewProber(cfg.Processing.FFprobePath, cfg.Processing.ProbeTimeout),
		Encoder:   ffmpeg.NewEncoder(cfg.Processing.FFmpegPath, hls, thumb, cfg.Processing.TranscodeTimeout, logger),
		Catalog:   store,
		Describer: classifier.New(cfg.Categories),
		Backupper: backupper,
		Tags:      mediainfo.Read,
	}, pipeline.Options{
		Layout:          layout,
		LegacyOutputDir: cfg.Directories.LegacyOutput,
	}, logger)
	if err != nil {
		return nil, err
	}

	val := validator.New(validator.Options{
		Extensions:     cfg.Monitor.Extensions,
		IgnorePatterns: cfg.Monitor.IgnorePatterns,
		MaxFileSize:    cfg.Monitor.MaxFileSize,
		StabilityDelay: cfg.Monitor.StabilityDelay,
	}, logger)

	watchOpts := watcher.Options{
		Root:         cfg.Directories.Watch,
		Recursive:    cfg.Monitor.Recursive,
		Backend:      cfg.Monitor.Backend,
		PollInterval: cfg.Monitor.PollInterval,
	}

	events := realtime.NewEventHub(logger)
	deps := Deps{
		Candidates: val,
		Checker:    artifacts.NewChecker(layout, gen.ID, logger),
		Pipeline:   pl,
		IDs:        gen,
		NewWatcher: func() (watcher.Watcher, error) { return watcher.New(watchOpts, logger) },
		Preflight:  preflightFunc(cfg, logger),
		Events:     events,
	}
	if daemonMode {
		deps.Lock = daemon.NewInstanceLock(cfg.Directories.State)
	}

	proc, err := New(deps, Options{
		WatchDir:        cfg.Directories.Watch,
		Recursive:       cfg.Monitor.Recursive,
		Debounce:        cfg.Monitor.Debounce,
		Concurrency:     cfg.Processing.Concurrency,
		ShutdownTimeout: cfg.Processing.ShutdownTimeout,
		ScanOnStartup:   cfg.System.ScanOnStartup,
		Health: health.Options{
			Interval:    cfg.System.HealthCheckInterval,
			WarnPercent: cfg.System.ResourceWarnPercent,
			DiskPath:    cfg.Directories.HLSOutput,
		},
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Components{Processor: proc, Catalog: store, Layout: layout, IDs: gen, Events: events}, nil
}

func preflightFunc(cfg *config.Config, logger zerolog.Logger) func(ctx context.Context) error {
	log := logger.With().Str("component", "preflight").Logger()
	return func(ctx context.Context) error {
		report := preflight.RunAll(ctx, cfg)
		for _, res := range report.Results {
			if res.Passed {
				log.Debug().Str("check", res.Name).Str("detail", res.Detail).Msg("check passed")
			} else {
				log.Error().Str("check", res.Name).Str("detail", res.Detail).Msg("check failed")
			}
		}
		if report.FFmpegVersion != "" {
			log.Info().Str("ffmpeg", report.FFmpegVersion).Msg("ffmpeg capability")
		}
		return report.Err()
	}
}
