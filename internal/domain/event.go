package domain

import "time"

type EventType string

const (
	EventExtractionStarted   EventType = "extraction_started"
	EventExtractionProgress  EventType = "extraction_progress"
	EventExtractionPublished EventType = "extraction_published"
	EventExtractionFailed    EventType = "extraction_failed"
	EventExtractionCancelled EventType = "extraction_cancelled"
	EventCacheSwept          EventType = "cache_swept"
)

// Event is an activity notification for live subscribers.
type Event struct {
	Type    EventType `json:"type"`
	TrackID TrackID   `json:"trackId,omitempty"`
	Percent int       `json:"percent,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}
