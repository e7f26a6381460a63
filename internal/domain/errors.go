package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidURL  = errors.New("invalid url")
	ErrTooLong     = errors.New("media too long")
	ErrInvalidClip = errors.New("invalid clip range")
)

// ToolError reports a non-zero exit of an external tool that was not caused
// by cancellation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Tool)
	b.WriteString(" failed")
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil && e.ExitCode <= 0 {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// Diagnostic is the text shown to the client for a failed tool run.
func (e *ToolError) Diagnostic() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Tool + " failed"
}

const maxDiagnosticBytes = 4096

// NewToolError wraps a failed process run. Only the tail of stderr is kept.
func NewToolError(tool string, err error, stderr string) *ToolError {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > maxDiagnosticBytes {
		stderr = stderr[len(stderr)-maxDiagnosticBytes:]
	}
	te := &ToolError{Tool: tool, Stderr: stderr, Err: err}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		te.ExitCode = coded.ExitCode()
	}
	return te
}
