package types

import "time"

// DateLayout is the calendar-day key used by quota records.
const DateLayout = "2006-01-02"

// Action is a quota-limited outreach action. Each has its own daily counter.
type Action string

const (
	ActionConnect Action = "connections"
	ActionMessage Action = "messages"
)

// QuotaRecord is the persisted per-day send counter.
type QuotaRecord struct {
	Date       string `json:"date"`
	SentCount  int    `json:"sent"`
	DailyLimit int    `json:"limit,omitempty"`
}

// Remaining returns how many sends are left, never negative.
func (r QuotaRecord) Remaining() int {
	if left := r.DailyLimit - r.SentCount; left > 0 {
		return left
	}
	return 0
}

// IsFor reports whether the record belongs to the calendar day of t.
func (r QuotaRecord) IsFor(t time.Time) bool {
	return r.Date == t.Format(DateLayout)
}
