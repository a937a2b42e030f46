package purgatory

import "time"

// State is a verification session's position in the lifecycle.
type State string

const (
	StateUnverified  State = "UNVERIFIED"
	StatePending     State = "PENDING_VERIFICATION"
	StateInPurgatory State = "IN_PURGATORY"
	StateVerified    State = "VERIFIED"
	StateMember      State = "MEMBER"
	StateExpired     State = "EXPIRED"
	StateCancelled   State = "CANCELLED"
	StateFailed      State = "FAILED"
)

// Closed reports whether the session left the flow: no further transition may
// occur and the chat identity is free to start over.
func (s State) Closed() bool {
	switch s {
	case StateMember, StateExpired, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Session is the persisted state of one verification attempt, keyed by chat
// identity. Stored as JSON in Redis under purg:sess:<chat_id>.
type Session struct {
	ID          string            `json:"id"`
	ChatID      string            `json:"chat_id"`
	ClaimedName string            `json:"claimed_name"` // as typed, prefix included
	Name        string            `json:"name"`         // canonical game username
	Bridged     bool              `json:"bridged"`
	Code        string            `json:"code,omitempty"`
	State       State             `json:"state"`
	Attempts    int               `json:"attempts"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// Remaining returns time left in the verification window, floored at zero.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s == nil || !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// RedeemOutcome classifies a code presentation from the game side.
type RedeemOutcome string

const (
	RedeemAccepted RedeemOutcome = "ACCEPTED"
	RedeemExpired  RedeemOutcome = "EXPIRED"
	RedeemMismatch RedeemOutcome = "MISMATCH"
	RedeemNotFound RedeemOutcome = "NOT_FOUND"
)

// EventKind labels a state-machine transition for listeners.
type EventKind string

const (
	EventOpened    EventKind = "opened"
	EventWarned    EventKind = "warned"
	EventVerified  EventKind = "verified"
	EventMember    EventKind = "member"
	EventExpired   EventKind = "expired"
	EventCancelled EventKind = "cancelled"
	EventFailed    EventKind = "failed"
)

// Event is delivered to registered listeners after a transition commits.
type Event struct {
	Kind    EventKind
	Session *Session
	From    State
	To      State
	// Warn threshold that fired, zero otherwise.
	Threshold time.Duration
	At        time.Time
}

// Errors
var (
	ErrInvalidArgs    = errf("invalid arguments")
	ErrSessionActive  = errf("chat identity already has an active session")
	ErrSessionGone    = errf("session not found or expired")
	ErrStaleState     = errf("session state changed concurrently")
	ErrTooManyActive  = errf("too many concurrent sessions")
	ErrNotInitialized = errf("purgatory manager not initialized")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
