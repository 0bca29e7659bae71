package models

import "time"

// SessionMessageType names a coordinator <-> session message
type SessionMessageType string

const (
	MessageGetVersion   SessionMessageType = "GET_VERSION"
	MessageSkipWaiting  SessionMessageType = "SKIP_WAITING"
	MessageGetCacheInfo SessionMessageType = "GET_CACHE_INFO"
	MessageClearCaches  SessionMessageType = "CLEAR_CACHES"
	MessageUpdated      SessionMessageType = "SW_UPDATED"
	MessageVersionInfo  SessionMessageType = "VERSION_INFO"
	MessageCacheInfo    SessionMessageType = "CACHE_INFO"
	MessageError        SessionMessageType = "ERROR"
)

// SessionMessage is the single JSON envelope used on the session channel
type SessionMessage struct {
	Type           SessionMessageType `json:"type"`
	RequestID      string             `json:"requestId,omitempty"`
	Version        string             `json:"version,omitempty"`
	CacheID        string             `json:"cacheId,omitempty"`
	Timestamp      *time.Time         `json:"timestamp,omitempty"`
	Caches         []string           `json:"caches,omitempty"`
	ActiveID       string             `json:"activeId,omitempty"`
	WaitingVersion string             `json:"waitingVersion,omitempty"`
	Error          string             `json:"error,omitempty"`
}
