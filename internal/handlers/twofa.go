package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/services"
	pkghttp "github.com/openclave/warden/pkg/http"
)

// TwofaHandler handles method management requests made by the account
// owner, plus the method-change decision callback from the messaging
// bridge.
type TwofaHandler struct {
	lifecycle    *services.LifecycleService
	methodChange *services.MethodChangeService
	logger       *slog.Logger
}

// NewTwofaHandler creates a new 2FA method management handler
func NewTwofaHandler(lifecycle *services.LifecycleService, methodChange *services.MethodChangeService, logger *slog.Logger) *TwofaHandler {
	return &TwofaHandler{
		lifecycle:    lifecycle,
		methodChange: methodChange,
		logger:       logger,
	}
}

// BeginTotpSetup handles POST /2fa/totp/setup
func (h *TwofaHandler) BeginTotpSetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	setup, err := h.lifecycle.BeginTotpSetup(r.Context(), user.UserID)
	if err != nil {
		if err != models.ErrConflict && err != models.ErrNotFound {
			h.logger.Error("failed to begin TOTP setup", slog.Any("error", err))
		}
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BeginTotpSetupResponse{
		PendingID:       setup.Session.PendingID,
		Secret:          setup.Session.CandidateSecret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          setup.QRCode,
		ExpiresAt:       setup.Session.ExpiresAt,
	})
}

// VerifyTotpSetup handles POST /2fa/totp/setup/verify
func (h *TwofaHandler) VerifyTotpSetup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req VerifyTotpSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.lifecycle.CompleteTotpSetup(r.Context(), user.UserID, req.PendingID, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyTotpSetupResponse{
		Success: true,
		Method:  string(models.TwofaMethodTotp),
	})
}

// DisableTotp handles POST /2fa/totp/disable
func (h *TwofaHandler) DisableTotp(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req DisableTotpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.lifecycle.DisableTotp(r.Context(), user.UserID, req.Code); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DisableTotpResponse{
		Success: true,
		Method:  string(models.TwofaMethodNone),
	})
}

// RequestMethodChange handles POST /2fa/method-change
func (h *TwofaHandler) RequestMethodChange(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RequestMethodChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pending, err := h.methodChange.RequestChange(r.Context(), user.UserID, models.ChangeAction(req.Action))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, methodChangeResponse(pending))
}

// GetMethodChangeStatus handles GET /2fa/method-change/{pendingID}
func (h *TwofaHandler) GetMethodChangeStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	pendingID := chi.URLParam(r, "pendingID")
	if pendingID == "" {
		pkghttp.WriteBadRequest(w, "pending id is required")
		return
	}

	pending, err := h.methodChange.GetStatus(r.Context(), user.UserID, pendingID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, methodChangeResponse(pending))
}

// MethodChangeCallback handles POST /callbacks/method-change, invoked by
// the messaging bridge when the user replies on their channel.
func (h *TwofaHandler) MethodChangeCallback(w http.ResponseWriter, r *http.Request) {
	var req MethodChangeCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pending, err := h.methodChange.ResolveFromCallback(r.Context(), req.ChannelID, req.PendingID, models.Decision(req.Decision))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CallbackResponse{Status: string(pending.Status)})
}

func methodChangeResponse(p *models.PendingMethodChange) MethodChangeResponse {
	return MethodChangeResponse{
		PendingID: p.PendingID,
		Action:    string(p.Action),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}
