// file: internal/ffmpeg/encoder.go
// version: 1.1.0
// guid: de1ae545-a2ec-439b-8dab-b120aa9b6678

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrOutputMissing is returned when ffmpeg exits without producing the
// expected output file.
var ErrOutputMissing = errors.New("ffmpeg: expected output missing")

// DefaultThumbnailTimeout bounds a single frame extraction.
const DefaultThumbnailTimeout = 30 * time.Second

// HLSOptions controls the transcode.
type HLSOptions struct {
	SegmentSeconds int
	VideoCodec     string
	AudioCodec     string
	Preset         string
	CRF            int
	MaxRate        string
	BufSize        string
}

// DefaultHLSOptions returns the stock encoding settings.
func DefaultHLSOptions() HLSOptions {
	return HLSOptions{
		SegmentSeconds: 3,
		VideoCodec:     "libx264",
		AudioCodec:     "aac",
		Preset:         "fast",
		CRF:            23,
		MaxRate:        "1500k",
		BufSize:        "3000k",
	}
}

// ThumbnailOptions controls frame extraction.
type ThumbnailOptions struct {
	Width   int
	Height  int
	Timeout time.Duration
}

// Encoder runs ffmpeg.
type Encoder struct {
	binary           string
	hls              HLSOptions
	thumb            ThumbnailOptions
	transcodeTimeout time.Duration
	logger           zerolog.Logger
}

// NewEncoder creates an Encoder. transcodeTimeout of zero leaves the
// transcode unbounded.
func NewEncoder(binary string, hls HLSOptions, thumb ThumbnailOptions, transcodeTimeout time.Duration, logger zerolog.Logger) *Encoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if hls.SegmentSeconds <= 0 {
		hls.SegmentSeconds = DefaultHLSOptions().SegmentSeconds
	}
	if thumb.Width <= 0 || thumb.Height <= 0 {
		thumb.Width, thumb.Height = 320, 240
	}
	if thumb.Timeout <= 0 {
		thumb.Timeout = DefaultThumbnailTimeout
	}
	return &Encoder{
		binary:           binary,
		hls:              hls,
		thumb:            thumb,
		transcodeTimeout: transcodeTimeout,
		logger:           logger.With().Str("component", "ffmpeg").Logger(),
	}
}

// BuildHLSArgs constructs the ffmpeg arguments for a VOD HLS transcode.
func BuildHLSArgs(src, manifest, segmentPattern string, o HLSOptions) []string {
	args := []string{"-i", src}
	if o.VideoCodec != "" {
		args = append(args, "-c:v", o.VideoCodec)
	}
	if o.AudioCodec != "" {
		args = append(args, "-c:a", o.AudioCodec)
	}
	if o.Preset != "" {
		args = append(args, "-preset", o.Preset)
	}
	if o.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(o.CRF))
	}
	if o.MaxRate != "" {
		args = append(args, "-maxrate", o.MaxRate)
	}
	if o.BufSize != "" {
		args = append(args, "-bufsize", o.BufSize)
	}
	args = append(args,
		"-g", "90",
		"-keyint_min", "30",
		"-sc_threshold", "0",
		"-hls_time", strconv.Itoa(o.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		manifest,
		"-y",
	)
	return args
}

// ThumbnailOffset picks the capture point: 5% into the video, at least one
// second in.
func ThumbnailOffset(durationSeconds float64) time.Duration {
	at := math.Max(1, durationSeconds*0.05)
	return time.Duration(at * float64(time.Second))
}

// FormatTimestamp renders d as HH:MM:SS for -ss.
func FormatTimestamp(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// BuildThumbnailArgs constructs the ffmpeg arguments for a single frame.
func BuildThumbnailArgs(src, dst string, at time.Duration, width, height int) []string {
	return []string{
		"-i", src,
		"-ss", FormatTimestamp(at),
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-q:v", "2",
		dst,
		"-y",
	}
}

// TranscodeHLS writes manifest and segments for src. durationSeconds is used
// for progress percentages and may be zero.
func (e *Encoder) TranscodeHLS(ctx context.Context, src, manifest, segmentPattern string, durationSeconds float64, progress ProgressFunc) error {
	if e.transcodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.transcodeTimeout)
		defer cancel()
	}

	if err := removeStale(manifest); err != nil {
		return err
	}
	args := BuildHLSArgs(src, manifest, segmentPattern, e.hls)
	e.logger.Debug().Str("path", src).Strs("args", args).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.binary, args...) //nolint:gosec // binary comes from configuration
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// stderr must be drained before Wait
	tail := readProgress(stderr, durationSeconds, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg transcode timed out after %s: %w", e.transcodeTimeout, ctx.Err())
		}
		return fmt.Errorf("ffmpeg transcode failed: %w: %s", err, lastLine(tail))
	}
	if _, err := os.Stat(manifest); err != nil {
		return fmt.Errorf("%w: %s", ErrOutputMissing, manifest)
	}
	return nil
}

// ExtractFrame writes one scaled frame of src at offset to dst.
func (e *Encoder) ExtractFrame(ctx context.Context, src, dst string, at time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, e.thumb.Timeout)
	defer cancel()

	if err := removeStale(dst); err != nil {
		return err
	}
	args := BuildThumbnailArgs(src, dst, at, e.thumb.Width, e.thumb.Height)
	cmd := exec.CommandContext(ctx, e.binary, args...) //nolint:gosec // binary comes from configuration
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg thumbnail timed out after %s: %w", e.thumb.Timeout, ctx.Err())
		}
		return fmt.Errorf("ffmpeg thumbnail failed: %w: %s", err, lastLine(string(output)))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("%w: %s", ErrOutputMissing, dst)
	}
	return nil
}

// Version returns the first line of `<binary> -version`.
func Version(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, "-version").Output() //nolint:gosec // binary comes from configuration
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}

// removeStale deletes an earlier output at path so the post-run existence
// check only passes for a file this run wrote.
func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale output %s: %w", path, err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
