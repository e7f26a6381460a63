package apihttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"

	"sampurr/internal/domain"
)

var errStreamClosed = errors.New("waveform stream already terminated")

// framing selects how frames are separated on the wire. The legacy
// /waveform endpoint writes JSON objects back to back; /v2/waveform ends
// every frame, and the raw tail, with a newline.
type framing int

const (
	framingLegacy framing = iota
	framingNDJSON
)

func (f framing) contentType() string {
	if f == framingNDJSON {
		return "application/x-ndjson"
	}
	return "application/json"
}

type infoPayload struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Duration  string `json:"duration"`
	ID        string `json:"id"`
}

type progressPayload struct {
	Percent int `json:"percent"`
}

type statusPayload struct {
	Status  string `json:"status"`
	Percent string `json:"percent"`
}

type errorMessagePayload struct {
	ErrorMessage string `json:"errorMessage"`
}

// frameWriter encodes frames onto a streaming HTTP response and flushes
// after every write. Once an error frame has been sent, or raw bytes have
// started, no further frames are accepted.
type frameWriter struct {
	w       io.Writer
	rc      *http.ResponseController
	framing framing

	terminated bool
	raw        bool
}

func newFrameWriter(w http.ResponseWriter, f framing) *frameWriter {
	return &frameWriter{w: w, rc: http.NewResponseController(w), framing: f}
}

func (fw *frameWriter) Send(frame domain.Frame) error {
	if fw.terminated || fw.raw {
		return errStreamClosed
	}
	payload, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	if fw.framing == framingNDJSON {
		payload = append(payload, '\n')
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	if frame.Terminal() {
		fw.terminated = true
	}
	return fw.flush()
}

// Write appends raw waveform bytes after the status frame.
func (fw *frameWriter) Write(p []byte) (int, error) {
	if fw.terminated {
		return 0, errStreamClosed
	}
	fw.raw = true
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, fw.flush()
}

// Close terminates the raw tail of an NDJSON stream.
func (fw *frameWriter) Close() error {
	if fw.framing == framingNDJSON && fw.raw && !fw.terminated {
		fw.terminated = true
		if _, err := fw.w.Write([]byte{'\n'}); err != nil {
			return err
		}
		return fw.flush()
	}
	fw.terminated = true
	return nil
}

func (fw *frameWriter) flush() error {
	if err := fw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// encodeFrame renders one frame as compact JSON without HTML escaping, the
// way existing clients expect it.
func encodeFrame(frame domain.Frame) ([]byte, error) {
	var payload any
	switch frame.Kind {
	case domain.FrameInfo:
		payload = infoPayload{
			Title:     frame.Info.Title,
			Thumbnail: frame.Info.Thumbnail,
			Duration:  frame.Info.Duration,
			ID:        string(frame.Info.TrackID),
		}
	case domain.FrameProgress:
		payload = progressPayload{Percent: frame.Percent}
	case domain.FrameStatus:
		payload = statusPayload{Status: frame.Status, Percent: frame.StatusPercent}
	case domain.FrameError:
		payload = errorMessagePayload{ErrorMessage: presentFailure(frame.Failure)}
	default:
		return nil, fmt.Errorf("unknown frame kind %q", frame.Kind)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// presentFailure renders a failure as the HTML fragment shown by the client.
func presentFailure(f domain.Failure) string {
	detail := html.EscapeString(f.Detail)
	switch f.Kind {
	case domain.ErrorValidation:
		return "<p>Please paste a valid link.</p><p><small>" + detail + "</small></p>"
	case domain.ErrorTooLong:
		return "<p>Sorry, this file is too long to turn into a waveform.</p><p><small>" + detail + "</small></p>"
	case domain.ErrorToolFailure:
		return "<p>Something went wrong while processing this link.</p><pre>" + detail + "</pre>"
	default:
		return "<p>Something went wrong on our side. Please try again later.</p><pre>" + detail + "</pre>"
	}
}
