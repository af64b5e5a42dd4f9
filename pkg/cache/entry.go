package cache

import (
	"time"
)

// Entry is the envelope stored for every cached response.
type Entry struct {
	// Data is the cached payload.
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response.
	StatusCode int `json:"status_code"`

	// ContentType is the response content type, replayed on cache hits.
	ContentType string `json:"content_type"`

	// CachedAt is when the entry was created.
	CachedAt time.Time `json:"cached_at"`

	// TTLSeconds is how long the entry is valid from CachedAt.
	TTLSeconds int `json:"ttl_seconds"`
}

// NewEntry creates an entry valid for ttl starting now.
func NewEntry(data []byte, statusCode int, contentType string, ttl time.Duration) *Entry {
	return &Entry{
		Data:        data,
		StatusCode:  statusCode,
		ContentType: contentType,
		CachedAt:    time.Now(),
		TTLSeconds:  int(ttl.Seconds()),
	}
}

// ExpiresAt returns the instant the entry becomes stale.
func (e *Entry) ExpiresAt() time.Time {
	return e.CachedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// IsExpired returns true if the entry has passed its TTL.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt())
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}
