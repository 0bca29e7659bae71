package models

import "time"

// CachedResource is one stored response inside a generation cache
type CachedResource struct {
	CacheID     string    `json:"cache_id"`
	Path        string    `json:"path"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}
