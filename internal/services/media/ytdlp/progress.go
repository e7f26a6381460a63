package ytdlp

import (
	"regexp"
	"strconv"
	"strings"

	"sampurr/internal/domain"
)

const progressMarker = "[download]"

var progressPattern = regexp.MustCompile(`^\[download\]\s+(\S+)\s+of\s+(~?\s*\S+)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// ParseProgress decodes one line of yt-dlp --newline output. ok is false for
// any line that is not a download progress line.
func ParseProgress(line string) (domain.ProgressEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, progressMarker) {
		return domain.ProgressEvent{}, false
	}
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return domain.ProgressEvent{}, false
	}
	return domain.ProgressEvent{
		Percent: parsePercent(m[1]),
		Size:    strings.Join(strings.Fields(m[2]), ""),
		Speed:   m[3],
		ETA:     m[4],
	}, true
}

func parsePercent(raw string) *int {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	pct := int(value)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}
