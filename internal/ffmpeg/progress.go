// file: internal/ffmpeg/progress.go
// version: 1.0.0
// guid: 9a204ab8-2269-4c3f-b6d9-c2bd1884c0be

package ffmpeg

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ffmpeg status lines carry time=HH:MM:SS[.frac]
var timeRegex = regexp.MustCompile(`time=(\d+):(\d+):(\d+)(\.\d+)?`)

// Progress is one transcode progress sample.
type Progress struct {
	ElapsedSeconds float64
	Percent        float64 // 0 when the duration is unknown
}

// ProgressFunc receives progress samples. It must not block.
type ProgressFunc func(Progress)

// ParseProgressTime extracts the encoded media time from a status line.
func ParseProgressTime(line string) (float64, bool) {
	m := timeRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	elapsed := float64(h*3600 + mins*60 + sec)
	if m[4] != "" {
		if frac, err := strconv.ParseFloat("0"+m[4], 64); err == nil {
			elapsed += frac
		}
	}
	return elapsed, true
}

// Percent converts elapsed media time into a percentage of duration,
// clamped to 100.
func Percent(elapsed, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	p := elapsed / duration * 100
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

// scanStatusLines splits on either \r or \n; ffmpeg rewrites its status
// line with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last n non-empty lines.
type tailBuffer struct {
	n     int
	lines []string
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string { return strings.Join(t.lines, "\n") }

// readProgress consumes ffmpeg stderr, reporting progress and returning the
// tail of the output for error messages.
func readProgress(r io.Reader, duration float64, fn ProgressFunc) string {
	tail := &tailBuffer{n: 20}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanStatusLines)
	for scanner.Scan() {
		line := scanner.Text()
		if elapsed, ok := ParseProgressTime(line); ok {
			if fn != nil {
				fn(Progress{ElapsedSeconds: elapsed, Percent: Percent(elapsed, duration)})
			}
			continue
		}
		tail.add(line)
	}
	return tail.String()
}
