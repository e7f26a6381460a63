package domain

type FrameKind string

const (
	FrameInfo     FrameKind = "info"
	FrameProgress FrameKind = "progress"
	FrameStatus   FrameKind = "status"
	FrameError    FrameKind = "error"
)

type ErrorKind string

const (
	ErrorValidation  ErrorKind = "validation"
	ErrorTooLong     ErrorKind = "too_long"
	ErrorToolFailure ErrorKind = "tool_failure"
	ErrorInternal    ErrorKind = "internal"
)

type Failure struct {
	Kind   ErrorKind
	Detail string
}

// StatusGenerating is the status text sent before waveform bytes.
const (
	StatusGenerating    = "Generating waveform"
	StatusGeneratingPct = "95"
)

// Frame is one structured message of the waveform stream. Exactly one of the
// payload fields is meaningful for a given Kind.
type Frame struct {
	Kind          FrameKind
	Info          MediaInfo
	Percent       int
	Status        string
	StatusPercent string
	Failure       Failure
}

func InfoFrame(info MediaInfo) Frame { return Frame{Kind: FrameInfo, Info: info} }

func ProgressFrame(percent int) Frame { return Frame{Kind: FrameProgress, Percent: percent} }

func StatusFrame() Frame {
	return Frame{Kind: FrameStatus, Status: StatusGenerating, StatusPercent: StatusGeneratingPct}
}

func ErrorFrame(kind ErrorKind, detail string) Frame {
	return Frame{Kind: FrameError, Failure: Failure{Kind: kind, Detail: detail}}
}

// Terminal reports whether nothing may follow f.
func (f Frame) Terminal() bool { return f.Kind == FrameError }
