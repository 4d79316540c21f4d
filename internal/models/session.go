package models

import "time"

// SessionStatus is the lifecycle state of an ephemeral 2FA session.
// Transitions are one-way; used, denied and expired are terminal.
type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionApproved SessionStatus = "approved"
	SessionDenied   SessionStatus = "denied"
	SessionExpired  SessionStatus = "expired"
	SessionUsed     SessionStatus = "used"
)

// Decision is an out-of-band verdict delivered by a channel callback.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionDeny
}

// ChangeAction is the direction of a pending method change.
type ChangeAction string

const (
	ChangeActionEnable  ChangeAction = "enable"
	ChangeActionDisable ChangeAction = "disable"
)

// PendingMethodChange tracks an out-of-band approval request to flip a
// user's 2FA method. Resolved by a decision callback from the linked
// channel, or observed as expired on the next read.
type PendingMethodChange struct {
	PendingID string        `json:"pending_id"`
	UserID    string        `json:"user_id"`
	ChannelID string        `json:"channel_id"`
	Method    TwofaMethod   `json:"method"`
	Action    ChangeAction  `json:"action"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ExpiredAt reports whether the session's logical TTL has elapsed at t.
func (p *PendingMethodChange) ExpiredAt(t time.Time) bool {
	return t.After(p.ExpiresAt)
}

// TotpSetupSession holds a candidate TOTP secret between enrollment
// start and the first verified code. The candidate never touches the
// user record; it is either committed on verification or discarded when
// the session expires.
type TotpSetupSession struct {
	PendingID       string    `json:"pending_id"`
	UserID          string    `json:"user_id"`
	CandidateSecret string    `json:"candidate_secret"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (s *TotpSetupSession) ExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// LoginChallengeSession tracks a 2FA challenge presented after primary
// password verification. The totp path goes pending -> used on a good
// code or pending -> denied once attempts are exhausted; the messaging
// path goes pending -> approved -> used, or pending -> denied.
type LoginChallengeSession struct {
	SessionID     string        `json:"twofa_session_id"`
	UserID        string        `json:"user_id"`
	Method        TwofaMethod   `json:"twofa_method"`
	Status        SessionStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	SentToChannel bool          `json:"sent_to_channel"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

func (s *LoginChallengeSession) ExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// Terminal reports whether the session can no longer change state.
func (s *LoginChallengeSession) Terminal() bool {
	switch s.Status {
	case SessionUsed, SessionDenied, SessionExpired:
		return true
	}
	return false
}
