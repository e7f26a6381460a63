package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"sampurr/internal/domain"
)

const (
	maxFetchTimeout = 45 * time.Second
	fetchAttempts   = 2
)

var errMalformedOutput = errors.New("unexpected yt-dlp output")

// Fetch resolves rawURL into its title, track id, thumbnail and duration.
// A failed lookup is retried once unless ctx is done or the media is too long.
func (c *Client) Fetch(ctx context.Context, rawURL string) (domain.MediaInfo, error) {
	if strings.TrimSpace(rawURL) == "" {
		return domain.MediaInfo{}, domain.ErrInvalidURL
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxFetchTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.MediaInfo{}, ctx.Err()
			case <-timer.C:
			}
		}

		info, err := c.fetchOnce(ctx, rawURL)
		if err == nil {
			if err := domain.CheckDuration(info.Duration, c.maxDuration); err != nil {
				return info, err
			}
			return info, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaInfo{}, ctxErr
		}
		lastErr = err
	}
	return domain.MediaInfo{}, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (domain.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, c.binary,
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
		"--print", "title",
		"--print", "id",
		"--print", "thumbnail",
		"--print", "duration_string",
		"--", rawURL,
	)
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.MediaInfo{}, ctxErr
		}
		return domain.MediaInfo{}, domain.NewToolError(toolName, err, stderr.String())
	}
	return parseMetadata(stdout.String())
}

// parseMetadata reads the four --print lines in the order they were requested.
func parseMetadata(out string) (domain.MediaInfo, error) {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) < 4 {
		return domain.MediaInfo{}, fmt.Errorf("%w: got %d lines", errMalformedOutput, len(lines))
	}
	info := domain.MediaInfo{
		Title:     strings.TrimSpace(lines[0]),
		TrackID:   domain.TrackID(strings.TrimSpace(lines[1])),
		Thumbnail: naToEmpty(lines[2]),
		Duration:  strings.TrimSpace(lines[3]),
	}
	if err := info.TrackID.Validate(); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	return info, nil
}

func naToEmpty(value string) string {
	value = strings.TrimSpace(value)
	if value == "NA" {
		return ""
	}
	return value
}
