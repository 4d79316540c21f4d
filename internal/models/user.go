package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TwofaMethod is the active second factor on a user's security profile.
// Exactly one method is active at a time.
type TwofaMethod string

const (
	TwofaMethodNone      TwofaMethod = "none"
	TwofaMethodMessaging TwofaMethod = "messaging"
	TwofaMethodTotp      TwofaMethod = "totp"
)

// Valid reports whether m is one of the known methods.
func (m TwofaMethod) Valid() bool {
	switch m {
	case TwofaMethodNone, TwofaMethodMessaging, TwofaMethodTotp:
		return true
	}
	return false
}

// User is the security profile view of a user record. The record itself
// is owned by the platform's user service; this engine reads it and
// mutates only the twofa_* fields, through a single atomic commit.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time

	TwofaMethod TwofaMethod
	// TotpSecret is present iff TwofaMethod == totp (or a commit is in
	// flight); base32 without padding.
	TotpSecret *string
	// LastTotpStep is the highest TOTP time step ever consumed. Nil until
	// the first successful use. Any future acceptance requires a strictly
	// greater step.
	LastTotpStep       *int64
	TotpEnabledAt      *time.Time
	MessagingEnabledAt *time.Time
}

// TwofaChange is the field set applied atomically by CommitTwofaChange.
type TwofaChange struct {
	Method             TwofaMethod
	TotpSecret         *string
	LastTotpStep       *int64
	TotpEnabledAt      *time.Time
	MessagingEnabledAt *time.Time
}

// ChannelLink connects a user to their confirmed external messaging
// channel. Approval decisions must originate from this channel.
type ChannelLink struct {
	UserID    string
	ChannelID string
	Confirmed bool
	CreatedAt time.Time
}

// TokenClaims are the claims this service verifies on inbound access
// tokens. Tokens are minted by the external auth service.
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
