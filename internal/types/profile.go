// Package types provides the shared data model for the outreach engine.
// Types in this package are plain data with no dependencies on browser,
// storage, or logging packages so every layer can import them.
package types

import (
	"strings"
	"time"
)

// RelationshipStatus is the classification of a profile page relative to the
// authenticated account. It is set only by the workflow's classification step.
type RelationshipStatus string

const (
	StatusUnknown          RelationshipStatus = "unknown"
	StatusConnectAvailable RelationshipStatus = "connect_available"
	StatusAlreadyConnected RelationshipStatus = "already_connected"
	StatusPendingRequest   RelationshipStatus = "pending_request"
	StatusFollowOnly       RelationshipStatus = "follow_only"
	StatusErrored          RelationshipStatus = "errored"
)

// Profile is one outreach target read from the profile store.
type Profile struct {
	// Identifier is the public handle taken from the profile URL.
	Identifier   string
	DisplayName  string
	Organization string
	ProfileURL   string

	// StoredStatus is the raw status column as last persisted.
	StoredStatus string

	Relationship    RelationshipStatus
	Outcome         Outcome
	LastAttemptedAt time.Time

	// Row locates the profile in its backing store (row index or primary key).
	Row int
}

// FirstName returns the first whitespace-separated token of the display name.
func (p Profile) FirstName() string {
	fields := strings.Fields(p.DisplayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Label is a short human-readable tag for logs.
func (p Profile) Label() string {
	if p.DisplayName == "" {
		return p.Identifier
	}
	return p.DisplayName + " (" + p.Identifier + ")"
}
