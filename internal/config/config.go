// file: internal/config/config.go
// version: 2.0.0
// guid: 60a8df1c-8501-47a4-aa69-84a39f6d717e

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VIDEO_AUTOPROCESSOR"

// Directories holds every directory the processor reads or writes.
type Directories struct {
	Watch        string
	HLSOutput    string
	Thumbnails   string
	Backup       string
	LegacyOutput string // optional; backed up before each transcode when it exists
	Logs         string
	State        string // lock file, pid bookkeeping
}

// Monitor configures the watcher, validator and debouncer.
type Monitor struct {
	Extensions     []string
	IgnorePatterns []string
	Debounce       time.Duration
	MaxFileSize    int64
	Recursive      bool
	Backend        string // "fsnotify" or "poll"
	PollInterval   time.Duration
	StabilityDelay time.Duration
}

// Processing configures the gate and the ffmpeg pipeline.
type Processing struct {
	Concurrency      int
	SegmentSeconds   int
	VideoCodec       string
	AudioCodec       string
	Preset           string
	CRF              int
	MaxRate          string
	BufSize          string
	ThumbnailWidth   int
	ThumbnailHeight  int
	ProbeTimeout     time.Duration
	ThumbnailTimeout time.Duration
	TranscodeTimeout time.Duration // 0 means unbounded
	ShutdownTimeout  time.Duration
	FFmpegPath       string
	FFprobePath      string
	MaxBackups       int
}

// IDs configures video identifier derivation.
type IDs struct {
	Strategy    string
	LegacyNames map[string]string
}

// Category is one classifier bucket.
type Category struct {
	Keywords    []string `mapstructure:"keywords" yaml:"keywords"`
	TitlePrefix string   `mapstructure:"title_prefix" yaml:"title_prefix"`
	Description string   `mapstructure:"description" yaml:"description"`
	Numbered    bool     `mapstructure:"numbered" yaml:"numbered"`
}

// Catalog configures the metadata store.
type Catalog struct {
	Path                    string
	AutoTitlePatterns       []string
	AutoDescriptionPatterns []string
}

// System holds daemon-level settings.
type System struct {
	HealthCheckInterval time.Duration
	ScanOnStartup       bool
	StatusAddr          string
	LogLevel            string
	LogFormat           string
	ResourceWarnPercent float64
}

// Config holds application configuration
type Config struct {
	Directories Directories
	Monitor     Monitor
	Processing  Processing
	IDs         IDs
	Catalog     Catalog
	Categories  map[string]Category
	System      System
}

// SetDefaults registers every default on v. Relative directories resolve
// against the current working directory.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("directories.watch", "videos")
	v.SetDefault("directories.hls_output", "hls_videos_optimized")
	v.SetDefault("directories.thumbnails", "thumbnails")
	v.SetDefault("directories.backup", "backup")
	v.SetDefault("directories.legacy_output", "")
	v.SetDefault("directories.logs", filepath.Join("logs", "auto_processor"))
	v.SetDefault("directories.state", ".video-autoprocessor")

	v.SetDefault("catalog.path", "videos.json")
	v.SetDefault("catalog.auto_title_patterns", DefaultAutoTitlePatterns)
	v.SetDefault("catalog.auto_description_patterns", []string{})

	v.SetDefault("monitor.extensions", []string{".mp4", ".avi", ".mov", ".mkv", ".flv"})
	v.SetDefault("monitor.ignore_patterns", []string{"*.tmp", "*.part", "*.crdownload"})
	v.SetDefault("monitor.debounce_seconds", 5.0)
	v.SetDefault("monitor.max_file_size", int64(1024*1024*1024))
	v.SetDefault("monitor.recursive", false)
	v.SetDefault("monitor.backend", "fsnotify")
	v.SetDefault("monitor.poll_interval", "2s")
	v.SetDefault("monitor.stability_delay", "1s")

	v.SetDefault("processing.concurrency", 2)
	v.SetDefault("processing.segment_seconds", 3)
	v.SetDefault("processing.video_codec", "libx264")
	v.SetDefault("processing.audio_codec", "aac")
	v.SetDefault("processing.preset", "fast")
	v.SetDefault("processing.crf", 23)
	v.SetDefault("processing.maxrate", "1500k")
	v.SetDefault("processing.bufsize", "3000k")
	v.SetDefault("processing.thumbnail_width", 320)
	v.SetDefault("processing.thumbnail_height", 240)
	v.SetDefault("processing.probe_timeout", "30s")
	v.SetDefault("processing.thumbnail_timeout", "30s")
	v.SetDefault("processing.transcode_timeout", "0s")
	v.SetDefault("processing.shutdown_timeout", "30s")
	v.SetDefault("processing.ffmpeg_path", "ffmpeg")
	v.SetDefault("processing.ffprobe_path", "ffprobe")
	v.SetDefault("processing.max_backups", 10)

	v.SetDefault("ids.strategy", "filename_based")
	v.SetDefault("ids.legacy_names", DefaultLegacyNames)

	v.SetDefault("classifier.categories", DefaultCategories)

	v.SetDefault("system.health_check_interval", "60s")
	v.SetDefault("system.scan_on_startup", true)
	v.SetDefault("system.status_addr", "127.0.0.1:7490")
	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.log_format", "console")
	v.SetDefault("system.resource_warn_percent", 90.0)
}

// Load builds a Config from v. Defaults are registered first, so an empty
// viper instance yields the stock configuration.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("config: nil viper instance")
	}
	SetDefaults(v)

	cfg := &Config{
		Directories: Directories{
			Watch:        v.GetString("directories.watch"),
			HLSOutput:    v.GetString("directories.hls_output"),
			Thumbnails:   v.GetString("directories.thumbnails"),
			Backup:       v.GetString("directories.backup"),
			LegacyOutput: v.GetString("directories.legacy_output"),
			Logs:         v.GetString("directories.logs"),
			State:        v.GetString("directories.state"),
		},
		Monitor: Monitor{
			Extensions:     normalizeExtensions(v.GetStringSlice("monitor.extensions")),
			IgnorePatterns: v.GetStringSlice("monitor.ignore_patterns"),
			Debounce:       secondsToDuration(v.GetFloat64("monitor.debounce_seconds")),
			MaxFileSize:    v.GetInt64("monitor.max_file_size"),
			Recursive:      v.GetBool("monitor.recursive"),
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("monitor.backend"))),
			PollInterval:   v.GetDuration("monitor.poll_interval"),
			StabilityDelay: v.GetDuration("monitor.stability_delay"),
		},
		Processing: Processing{
			Concurrency:      v.GetInt("processing.concurrency"),
			SegmentSeconds:   v.GetInt("processing.segment_seconds"),
			VideoCodec:       v.GetString("processing.video_codec"),
			AudioCodec:       v.GetString("processing.audio_codec"),
			Preset:           v.GetString("processing.preset"),
			CRF:              v.GetInt("processing.crf"),
			MaxRate:          v.GetString("processing.maxrate"),
			BufSize:          v.GetString("processing.bufsize"),
			ThumbnailWidth:   v.GetInt("processing.thumbnail_width"),
			ThumbnailHeight:  v.GetInt("processing.thumbnail_height"),
			ProbeTimeout:     v.GetDuration("processing.probe_timeout"),
			ThumbnailTimeout: v.GetDuration("processing.thumbnail_timeout"),
			TranscodeTimeout: v.GetDuration("processing.transcode_timeout"),
			ShutdownTimeout:  v.GetDuration("processing.shutdown_timeout"),
			FFmpegPath:       v.GetString("processing.ffmpeg_path"),
			FFprobePath:      v.GetString("processing.ffprobe_path"),
			MaxBackups:       v.GetInt("processing.max_backups"),
		},
		IDs: IDs{
			Strategy:    strings.ToLower(strings.TrimSpace(v.GetString("ids.strategy"))),
			LegacyNames: v.GetStringMapString("ids.legacy_names"),
		},
		Catalog: Catalog{
			Path:                    v.GetString("catalog.path"),
			AutoTitlePatterns:       v.GetStringSlice("catalog.auto_title_patterns"),
			AutoDescriptionPatterns: v.GetStringSlice("catalog.auto_description_patterns"),
		},
		System: System{
			HealthCheckInterval: v.GetDuration("system.health_check_interval"),
			ScanOnStartup:       v.GetBool("system.scan_on_startup"),
			StatusAddr:          v.GetString("system.status_addr"),
			LogLevel:            v.GetString("system.log_level"),
			LogFormat:           v.GetString("system.log_format"),
			ResourceWarnPercent: v.GetFloat64("system.resource_warn_percent"),
		},
	}

	categories := map[string]Category{}
	if err := v.UnmarshalKey("classifier.categories", &categories); err != nil {
		return nil, fmt.Errorf("parse classifier.categories: %w", err)
	}
	cfg.Categories = categories

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper instance wired for YAML files and environment
// overrides. An empty path searches the home directory.
func NewViper(path string, home string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home != "" {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".video-autoprocessor")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Directories.Watch) == "" {
		return errors.New("directories.watch must be set")
	}
	if strings.TrimSpace(c.Directories.HLSOutput) == "" {
		return errors.New("directories.hls_output must be set")
	}
	if strings.TrimSpace(c.Directories.Thumbnails) == "" {
		return errors.New("directories.thumbnails must be set")
	}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		return errors.New("catalog.path must be set")
	}
	if len(c.Monitor.Extensions) == 0 {
		return errors.New("monitor.extensions must list at least one extension")
	}
	if c.Monitor.Debounce <= 0 {
		return errors.New("monitor.debounce_seconds must be positive")
	}
	if c.Monitor.MaxFileSize <= 0 {
		return errors.New("monitor.max_file_size must be positive")
	}
	switch c.Monitor.Backend {
	case "fsnotify", "poll":
	default:
		return fmt.Errorf("monitor.backend: unsupported value %q", c.Monitor.Backend)
	}
	if c.Monitor.Backend == "poll" && c.Monitor.PollInterval <= 0 {
		return errors.New("monitor.poll_interval must be positive when monitor.backend is poll")
	}
	if c.Monitor.StabilityDelay < 0 {
		return errors.New("monitor.stability_delay must not be negative")
	}
	if c.Processing.Concurrency <= 0 {
		return errors.New("processing.concurrency must be positive")
	}
	if c.Processing.SegmentSeconds <= 0 {
		return errors.New("processing.segment_seconds must be positive")
	}
	if c.Processing.ThumbnailWidth <= 0 || c.Processing.ThumbnailHeight <= 0 {
		return errors.New("processing.thumbnail_width and thumbnail_height must be positive")
	}
	if c.Processing.ProbeTimeout <= 0 {
		return errors.New("processing.probe_timeout must be positive")
	}
	if c.Processing.TranscodeTimeout < 0 {
		return errors.New("processing.transcode_timeout must not be negative")
	}
	if c.Processing.ShutdownTimeout <= 0 {
		return errors.New("processing.shutdown_timeout must be positive")
	}
	switch c.IDs.Strategy {
	case "filename_based", "timestamp_based", "uuid_based":
	default:
		return fmt.Errorf("ids.strategy: unsupported value %q", c.IDs.Strategy)
	}
	if c.System.HealthCheckInterval <= 0 {
		return errors.New("system.health_check_interval must be positive")
	}
	return nil
}

// CatalogDir returns the directory holding the catalog file.
func (c *Config) CatalogDir() string {
	return filepath.Dir(c.Catalog.Path)
}

// OutputDirs lists the directories that must be writable before startup.
func (c *Config) OutputDirs() map[string]string {
	dirs := map[string]string{
		"watch":      c.Directories.Watch,
		"hls_output": c.Directories.HLSOutput,
		"thumbnails": c.Directories.Thumbnails,
		"catalog":    c.CatalogDir(),
	}
	if c.Directories.Backup != "" {
		dirs["backup"] = c.Directories.Backup
	}
	if c.Directories.Logs != "" {
		dirs["logs"] = c.Directories.Logs
	}
	if c.Directories.State != "" {
		dirs["state"] = c.Directories.State
	}
	return dirs
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
