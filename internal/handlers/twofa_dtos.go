package handlers

import "time"

// TOTP setup DTOs

// BeginTotpSetupResponse carries the provisioning material for the
// enrollment UI. The secret also appears inside the URI; it is exposed
// separately for manual entry.
type BeginTotpSetupResponse struct {
	PendingID       string    `json:"pending_id"`
	Secret          string    `json:"secret"`
	ProvisioningURI string    `json:"provisioning_uri"`
	QRCode          string    `json:"qr_code"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// VerifyTotpSetupRequest confirms enrollment with the first code
type VerifyTotpSetupRequest struct {
	PendingID string `json:"pending_id" validate:"required"`
	Code      string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyTotpSetupResponse confirms TOTP enablement
type VerifyTotpSetupResponse struct {
	Success bool   `json:"success"`
	Method  string `json:"twofa_method"`
}

// DisableTotpRequest requires a fresh code to turn TOTP off
type DisableTotpRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTotpResponse confirms TOTP disablement
type DisableTotpResponse struct {
	Success bool   `json:"success"`
	Method  string `json:"twofa_method"`
}

// Method change DTOs

// RequestMethodChangeRequest opens an out-of-band approval flow
type RequestMethodChangeRequest struct {
	Action string `json:"action" validate:"required,oneof=enable disable"`
}

// MethodChangeResponse is the pending record as seen by its owner. The
// bound channel id is never echoed back.
type MethodChangeResponse struct {
	PendingID string    `json:"pending_id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Callback DTOs (messaging bridge tier)

// MethodChangeCallbackRequest relays a channel decision on a pending
// method change
type MethodChangeCallbackRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
	PendingID string `json:"pending_id" validate:"required"`
	Decision  string `json:"decision" validate:"required,oneof=approve deny"`
}

// CallbackResponse acknowledges a processed decision
type CallbackResponse struct {
	Status string `json:"status"`
}
