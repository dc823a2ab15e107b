package cache

import (
	"time"
)

// Entry represents a cached JSON resource.
type Entry struct {
	// Path is the normalized logical resource path.
	Path string `json:"path"`

	// Version is a short change-detection token. It is not content addressable.
	Version string `json:"version"`

	// Timestamp is the time of the last refresh in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Data is the decoded JSON payload.
	Data any `json:"data"`
}

// Age returns how long ago the entry was refreshed.
func (e *Entry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

// IsFresh reports whether the entry is younger than ttl.
func (e *Entry) IsFresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}
