package audiowaveform

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
	toolName           = "audiowaveform"
	maxGenerateTimeout = 3 * time.Minute
	chunkSize          = 32 << 10
)

// Options control the peak resolution of the generated waveform.
type Options struct {
	Bits            int
	PixelsPerSecond int
}

type Generator struct {
	binary string
	opts   Options
}

func New(binary string, opts Options) *Generator {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = toolName
	}
	if opts.Bits != 16 {
		opts.Bits = 8
	}
	if opts.PixelsPerSecond <= 0 {
		opts.PixelsPerSecond = 20
	}
	return &Generator{binary: bin, opts: opts}
}

// ErrPartialOutput marks a failure that happened after bytes reached w.
var ErrPartialOutput = errors.New("waveform output truncated")

// Generate runs audiowaveform on audioPath and copies its JSON output to w as
// it is produced. Each chunk is handed to w with a single Write call. When the
// tool fails after some output was written the error wraps ErrPartialOutput.
func (g *Generator) Generate(ctx context.Context, audioPath string, w io.Writer) error {
	path := strings.TrimSpace(audioPath)
	if path == "" {
		return errors.New("audio path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxGenerateTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, g.binary, g.args(path)...)
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return domain.NewToolError(toolName, err, "")
	}

	written, copyErr := copyChunks(w, stdout)
	if copyErr != nil {
		// The client went away; stop the tool instead of letting it block.
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case copyErr != nil:
		return fmt.Errorf("write waveform: %w", copyErr)
	case waitErr != nil:
		toolErr := domain.NewToolError(toolName, waitErr, stderr.String())
		if written > 0 {
			return fmt.Errorf("%w: %w", ErrPartialOutput, toolErr)
		}
		return toolErr
	}
	return nil
}

func (g *Generator) args(path string) []string {
	return []string{
		"-i", path,
		"--output-format", "json",
		"-o", "-",
		"--bits", strconv.Itoa(g.opts.Bits),
		"--pixels-per-second", strconv.Itoa(g.opts.PixelsPerSecond),
	}
}

func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			wn, err := w.Write(buf[:n])
			total += int64(wn)
			if err != nil {
				return total, err
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
