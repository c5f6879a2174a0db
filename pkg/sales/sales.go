// Package sales contains the core domain types for the Steam sales notification service.
package sales

import (
	"strings"
	"time"
)

// Listing is one discount-catalog entry observed during a scan.
type Listing struct {
	Title      string    `json:"title"`       // Game title as rendered on the store page
	Price      string    `json:"price"`       // Display price text, not required to be numeric
	Link       string    `json:"link"`        // Canonical store URL, the identity key
	ObservedAt time.Time `json:"observed_at"` // When the scan saw this listing
}

// Key returns the identity key used to compare listings across snapshots.
// Listings without a stable link fall back to their lower-cased title.
func (l Listing) Key() string {
	if l.Link != "" {
		return l.Link
	}
	return strings.ToLower(strings.TrimSpace(l.Title))
}

// Watch pairs a chat with a title fragment it wants alerts for.
// Matching is case-insensitive substring containment.
type Watch struct {
	ChatID int64
	Title  string
}
