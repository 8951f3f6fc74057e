// file: internal/ffmpeg/probe.go
// version: 1.0.0
// guid: 51adf9cc-5b8a-4c95-b9ee-61541d80e7cb

// Package ffmpeg wraps the ffprobe and ffmpeg executables.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe run.
const DefaultProbeTimeout = 30 * time.Second

// Quality tiers derived from vertical resolution.
const (
	QualityHigh    = "high"
	QualityMedium  = "medium"
	QualityLow     = "low"
	QualityVeryLow = "very_low"
	QualityUnknown = "unknown"
)

// Stream describes a single stream in ffprobe output.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level ffprobe metadata.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

type probeOutput struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Info is the analysis of one source video.
type Info struct {
	Filename          string  `json:"filename"`
	Path              string  `json:"path"`
	SizeBytes         int64   `json:"size_bytes"`
	DurationSeconds   float64 `json:"duration_seconds"`
	DurationFormatted string  `json:"duration"`
	VideoCodec        string  `json:"video_codec,omitempty"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	FPS               float64 `json:"fps"`
	VideoBitrate      int64   `json:"video_bitrate"`
	AudioCodec        string  `json:"audio_codec,omitempty"`
	AudioSampleRate   int     `json:"audio_sample_rate"`
	AudioChannels     int     `json:"audio_channels"`
	AudioBitrate      int64   `json:"audio_bitrate"`
	TotalBitrate      int64   `json:"total_bitrate"`
	Resolution        string  `json:"resolution"`
	Quality           string  `json:"quality"`
}

// SizeMB returns the source size in mebibytes rounded to two places.
func (i *Info) SizeMB() float64 {
	return math.Round(float64(i.SizeBytes)/(1024*1024)*100) / 100
}

// Prober runs ffprobe with a per-call timeout.
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber creates a Prober. Empty binary means "ffprobe" on PATH.
func NewProber(binary string, timeout time.Duration) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{binary: binary, timeout: timeout}
}

// Probe inspects path and returns its analysis.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ffprobe: empty path")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path) //nolint:gosec // binary comes from configuration
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("ffprobe timed out after %s: %w", p.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	info, err := ParseProbe(output, path)
	if err != nil {
		return nil, err
	}
	if info.SizeBytes == 0 {
		if st, statErr := os.Stat(path); statErr == nil {
			info.SizeBytes = st.Size()
		}
	}
	return info, nil
}

// ParseProbe decodes ffprobe JSON into an Info. The first video and first
// audio streams are used.
func ParseProbe(data []byte, path string) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}

	var video, audio *Stream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}

	duration := parseFloat(out.Format.Duration)
	info := &Info{
		Filename:          filepath.Base(path),
		Path:              path,
		SizeBytes:         int64(parseFloat(out.Format.Size)),
		DurationSeconds:   duration,
		DurationFormatted: FormatDuration(duration),
		TotalBitrate:      int64(parseFloat(out.Format.BitRate)),
		Resolution:        "0x0",
		Quality:           QualityUnknown,
	}
	if video != nil {
		info.VideoCodec = orUnknown(video.CodecName)
		info.Width = video.Width
		info.Height = video.Height
		info.FPS = ParseFPS(video.RFrameRate)
		info.VideoBitrate = int64(parseFloat(video.BitRate))
		info.Resolution = fmt.Sprintf("%dx%d", video.Width, video.Height)
		info.Quality = AssessQuality(video.Height)
	}
	if audio != nil {
		info.AudioCodec = orUnknown(audio.CodecName)
		info.AudioSampleRate = int(parseFloat(audio.SampleRate))
		info.AudioChannels = audio.Channels
		info.AudioBitrate = int64(parseFloat(audio.BitRate))
	}
	return info, nil
}

// FormatDuration renders seconds as MM:SS, or HH:MM:SS from one hour.
// Non-positive input yields "00:00".
func FormatDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "00:00"
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ParseFPS parses an ffprobe rate such as "30000/1001". Invalid input is 0.
func ParseFPS(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		v, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return 0
		}
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*100) / 100
}

// AssessQuality maps a frame height onto a quality tier.
func AssessQuality(height int) string {
	switch {
	case height >= 1080:
		return QualityHigh
	case height >= 720:
		return QualityMedium
	case height >= 480:
		return QualityLow
	default:
		return QualityVeryLow
	}
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
