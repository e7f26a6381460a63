package domain

// ProgressEvent is one parsed line of download progress. Percent is nil when
// the line carried no usable percentage.
type ProgressEvent struct {
	Percent *int
	Size    string
	Speed   string
	ETA     string
}

func (e ProgressEvent) HasPercent() bool { return e.Percent != nil }
