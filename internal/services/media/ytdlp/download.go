package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"iter"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"sampurr/internal/domain"
	"sampurr/internal/domain/ports"
)

// Download is a running yt-dlp audio extraction.
type Download struct {
	cmd      *exec.Cmd
	ctx      context.Context
	stdout   io.ReadCloser
	stderr   bytes.Buffer
	consumed atomic.Bool
	waitOnce sync.Once
	err      error
}

// Download starts extracting the audio of rawURL into stagingPath as WAV.
// The process is killed when ctx is done.
func (c *Client) Download(ctx context.Context, rawURL, stagingPath string) (ports.Download, error) {
	template := strings.TrimSuffix(stagingPath, filepath.Ext(stagingPath)) + ".%(ext)s"
	cmd := exec.CommandContext(ctx, c.binary,
		"--no-playlist",
		"--newline",
		"--no-warnings",
		"--no-part",
		"-f", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "wav",
		"-o", template,
		"--", rawURL,
	)
	configureProcess(cmd)

	d := &Download{cmd: cmd, ctx: ctx}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	d.stdout = stdout
	cmd.Stderr = &d.stderr

	if err := cmd.Start(); err != nil {
		return nil, domain.NewToolError(toolName, err, "")
	}
	return d, nil
}

// Events yields parsed progress lines in arrival order. The sequence can be
// ranged over once; later calls yield nothing. It ends when stdout closes.
func (d *Download) Events() iter.Seq[domain.ProgressEvent] {
	return func(yield func(domain.ProgressEvent) bool) {
		if !d.consumed.CompareAndSwap(false, true) {
			return
		}
		scanner := bufio.NewScanner(d.stdout)
		for scanner.Scan() {
			evt, ok := ParseProgress(scanner.Text())
			if !ok {
				continue
			}
			if !yield(evt) {
				return
			}
		}
	}
}

// Wait drains any unread output and blocks until the process exits. It
// returns ctx.Err() when the process was stopped by its context and a
// *domain.ToolError on any other failure.
func (d *Download) Wait() error {
	d.waitOnce.Do(func() {
		d.consumed.Store(true)
		_, _ = io.Copy(io.Discard, d.stdout)
		err := d.cmd.Wait()
		switch {
		case err == nil:
		case d.ctx.Err() != nil:
			d.err = d.ctx.Err()
		default:
			d.err = domain.NewToolError(toolName, err, d.stderr.String())
		}
	})
	return d.err
}
