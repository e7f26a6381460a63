package ytdlp

import (
	"strings"
	"time"
)

const toolName = "yt-dlp"

// Client runs the yt-dlp binary for metadata lookups and audio extraction.
type Client struct {
	binary      string
	maxDuration time.Duration
	retryDelay  time.Duration
}

// New returns a client for binary ("yt-dlp" when empty). Media at least
// maxDuration long is rejected by Fetch; zero disables the check.
func New(binary string, maxDuration time.Duration) *Client {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = toolName
	}
	return &Client{
		binary:      bin,
		maxDuration: maxDuration,
		retryDelay:  2 * time.Second,
	}
}
