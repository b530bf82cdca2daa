package types

import "strings"

// OutcomeKind is the terminal classification of one attempt.
type OutcomeKind string

const (
	OutcomeNotAttempted            OutcomeKind = "not_attempted"
	OutcomeSent                    OutcomeKind = "sent"
	OutcomeMessaged                OutcomeKind = "dm_sent"
	OutcomeSkippedAlreadyConnected OutcomeKind = "already_connected"
	OutcomeSkippedPending          OutcomeKind = "pending"
	OutcomeSkippedFollowOnly       OutcomeKind = "follow_only"
	OutcomeSkippedNoAction         OutcomeKind = "no_action"
	OutcomeSkippedNotConnected     OutcomeKind = "not_connected"
	OutcomeFailed                  OutcomeKind = "failed"
)

// Failure reasons name the workflow step that could not complete.
const (
	ReasonNoConnectButton     = "no_connect_button"
	ReasonModalError          = "modal_error"
	ReasonSendError           = "send_error"
	ReasonConfirmationTimeout = "confirmation_timeout"
	ReasonNavigationError     = "navigation_error"
	ReasonNoMessageButton     = "no_message_button"
	ReasonComposerError       = "composer_error"
)

// Outcome is the single terminal value recorded for a profile attempt.
// Reason is only meaningful when Kind is OutcomeFailed.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Sent is the successful outcome.
func Sent() Outcome { return Outcome{Kind: OutcomeSent} }

// Messaged is the successful direct-message outcome.
func Messaged() Outcome { return Outcome{Kind: OutcomeMessaged} }

// Skipped builds a skip outcome of the given kind.
func Skipped(kind OutcomeKind) Outcome { return Outcome{Kind: kind} }

// Failed builds a failure outcome naming the failing step.
func Failed(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }

// IsTerminal reports whether the outcome concludes an attempt.
func (o Outcome) IsTerminal() bool {
	return o.Kind != "" && o.Kind != OutcomeNotAttempted
}

// IsSkip reports whether the outcome is one of the skip kinds.
func (o Outcome) IsSkip() bool {
	switch o.Kind {
	case OutcomeSkippedAlreadyConnected, OutcomeSkippedPending,
		OutcomeSkippedFollowOnly, OutcomeSkippedNoAction, OutcomeSkippedNotConnected:
		return true
	}
	return false
}

// Action returns the quota-consuming action a successful outcome used.
func (o Outcome) Action() (Action, bool) {
	switch o.Kind {
	case OutcomeSent:
		return ActionConnect, true
	case OutcomeMessaged:
		return ActionMessage, true
	}
	return "", false
}

// String renders the outcome as it is written to the status column.
func (o Outcome) String() string {
	if o.Kind == OutcomeFailed && o.Reason != "" {
		return string(o.Kind) + ":" + o.Reason
	}
	if o.Kind == "" {
		return string(OutcomeNotAttempted)
	}
	return string(o.Kind)
}

// ParseOutcome reads a stored status column back into an Outcome.
// Empty or unrecognised values map to OutcomeNotAttempted.
func ParseOutcome(s string) Outcome {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Outcome{Kind: OutcomeNotAttempted}
	}
	if kind, reason, ok := strings.Cut(s, ":"); ok && OutcomeKind(kind) == OutcomeFailed {
		return Failed(reason)
	}
	switch k := OutcomeKind(s); k {
	case OutcomeSent, OutcomeMessaged, OutcomeSkippedAlreadyConnected, OutcomeSkippedPending,
		OutcomeSkippedFollowOnly, OutcomeSkippedNoAction, OutcomeSkippedNotConnected, OutcomeFailed:
		return Outcome{Kind: k}
	}
	return Outcome{Kind: OutcomeNotAttempted}
}

// OutcomeFor maps a classification that ends an attempt early to its skip outcome.
func OutcomeFor(status RelationshipStatus) (Outcome, bool) {
	switch status {
	case StatusAlreadyConnected:
		return Skipped(OutcomeSkippedAlreadyConnected), true
	case StatusPendingRequest:
		return Skipped(OutcomeSkippedPending), true
	case StatusFollowOnly:
		return Skipped(OutcomeSkippedFollowOnly), true
	}
	return Outcome{}, false
}
