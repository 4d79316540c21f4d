package handlers

import "time"

// Login challenge DTOs (auth service tier)

// CreateChallengeRequest opens a 2FA challenge after the primary
// credential check
type CreateChallengeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Method string `json:"twofa_method" validate:"required,oneof=totp messaging"`
}

// ChallengeResponse is the challenge state returned to the auth service
type ChallengeResponse struct {
	SessionID     string    `json:"twofa_session_id"`
	Method        string    `json:"twofa_method"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	SentToChannel bool      `json:"sent_to_channel"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// VerifyChallengeRequest submits a TOTP code against a challenge
type VerifyChallengeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// ChallengeResultResponse reports a resolved challenge and the
// authenticated user
type ChallengeResultResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
}

// LoginCallbackRequest relays a channel decision on a login challenge
type LoginCallbackRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	SessionID string `json:"twofa_session_id" validate:"required"`
	Decision  string `json:"decision" validate:"required,oneof=approve deny"`
}
