package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"sampurr/internal/domain"
)

const (
	toolName       = "ffmpeg"
	maxClipTimeout = 2 * time.Minute
)

// Clipper cuts time ranges out of cached audio files.
type Clipper struct {
	binary string
}

func New(binary string) *Clipper {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = toolName
	}
	return &Clipper{binary: bin}
}

// Clip writes audioPath between start and end to w as WAV.
func (c *Clipper) Clip(ctx context.Context, audioPath string, start, end time.Duration, w io.Writer) error {
	if strings.TrimSpace(audioPath) == "" {
		return errors.New("audio path is required")
	}
	if start < 0 || end <= start {
		return domain.ErrInvalidClip
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxClipTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary, buildClipArgs(audioPath, start, end)...)
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.NewToolError(toolName, err, stderr.String())
	}
	return nil
}

func buildClipArgs(path string, start, end time.Duration) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", path,
		"-f", "wav",
		"pipe:1",
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// ParseTimestamp accepts plain seconds ("12.5") or a clock value
// ("1:02", "00:01:02.250").
func ParseTimestamp(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty timestamp", domain.ErrInvalidClip)
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidClip, raw)
	}
	var total float64
	for i, part := range parts {
		value, err := strconv.ParseFloat(part, 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidClip, raw)
		}
		if i < len(parts)-1 && value != float64(int64(value)) {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidClip, raw)
		}
		total = total*60 + value
	}
	return time.Duration(total * float64(time.Second)), nil
}
