package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gift is one row of the gift list. The JSON names are the record store wire names.
type Gift struct {
	Who      string `json:"kdo"`
	FromWhom string `json:"odKoho"`
	Item     string `json:"co"`
	Link     string `json:"odkaz"`
	Status   string `json:"status"`
}

// GiftKey identifies a gift. Two gifts with the same requester and item text collide.
type GiftKey struct {
	Who  string `json:"kdo"`
	Item string `json:"co"`
}

// Key returns the composite identity of the gift
func (g Gift) Key() GiftKey {
	return GiftKey{Who: g.Who, Item: g.Item}
}

// IsValid reports whether both key components are non-empty after trimming
func (g Gift) IsValid() bool {
	return strings.TrimSpace(g.Who) != "" && strings.TrimSpace(g.Item) != ""
}

// Normalized returns a copy with every field trimmed
func (g Gift) Normalized() Gift {
	return Gift{
		Who:      strings.TrimSpace(g.Who),
		FromWhom: strings.TrimSpace(g.FromWhom),
		Item:     strings.TrimSpace(g.Item),
		Link:     strings.TrimSpace(g.Link),
		Status:   strings.TrimSpace(g.Status),
	}
}

// GiftRow is the persisted form of a gift.
// ID is a storage-only surrogate; the wire protocol never exposes it.
type GiftRow struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	Gift      Gift      `json:"gift"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveResult describes what a save did to the store
type SaveResult struct {
	Row     int64 `json:"row"`
	Created bool  `json:"created"`
}
