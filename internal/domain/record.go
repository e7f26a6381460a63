package domain

import (
	"errors"
	"time"
)

// CacheEntry is a published, complete audio file.
type CacheEntry struct {
	TrackID TrackID
	Path    string
	Size    int64
	ModTime time.Time
}

// TrackRecord is the catalog view of a published cache entry.
type TrackRecord struct {
	ID          TrackID   `json:"id"`
	Title       string    `json:"title"`
	Thumbnail   string    `json:"thumbnail"`
	Duration    string    `json:"duration"`
	SourceURL   string    `json:"sourceUrl"`
	SizeBytes   int64     `json:"sizeBytes"`
	PublishedAt time.Time `json:"publishedAt"`
}

func (r TrackRecord) Validate() error {
	if err := r.ID.Validate(); err != nil {
		return err
	}
	if r.SizeBytes < 0 {
		return errors.New("sizeBytes must not be negative")
	}
	return nil
}
