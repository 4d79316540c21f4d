package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/services"
	pkghttp "github.com/openclave/warden/pkg/http"
)

// LoginHandler handles the login challenge endpoints called by the auth
// service, plus the login decision callback from the messaging bridge.
// Caller identity on these routes is a shared key, not a user token; the
// authenticated user is whoever the challenge resolves to.
type LoginHandler struct {
	challenges *services.LoginChallengeService
	logger     *slog.Logger
}

// NewLoginHandler creates a new login challenge handler
func NewLoginHandler(challenges *services.LoginChallengeService, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		challenges: challenges,
		logger:     logger,
	}
}

// CreateChallenge handles POST /login/2fa/challenges
func (h *LoginHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.challenges.CreateChallenge(r.Context(), req.UserID, models.TwofaMethod(req.Method))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, challengeResponse(session))
}

// SendChallenge handles POST /login/2fa/challenges/{sessionID}/send
func (h *LoginHandler) SendChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	if err := h.challenges.RequestChannelApproval(r.Context(), sessionID); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, CallbackResponse{Status: "sent"})
}

// VerifyChallenge handles POST /login/2fa/challenges/{sessionID}/verify
func (h *LoginHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	var req VerifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID, err := h.challenges.VerifyTotp(r.Context(), sessionID, req.Code)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ChallengeResultResponse{Success: true, UserID: userID})
}

// CompleteChallenge handles POST /login/2fa/challenges/{sessionID}/complete
func (h *LoginHandler) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	userID, err := h.challenges.CompleteApproved(r.Context(), sessionID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ChallengeResultResponse{Success: true, UserID: userID})
}

// GetChallenge handles GET /login/2fa/challenges/{sessionID}
func (h *LoginHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	session, err := h.challenges.GetStatus(r.Context(), sessionID)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, challengeResponse(session))
}

// LoginCallback handles POST /callbacks/login, invoked by the messaging
// bridge when the user replies to a sign-in prompt.
func (h *LoginHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	var req LoginCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.challenges.ResolveFromCallback(r.Context(), req.ChannelID, req.SessionID, models.Decision(req.Decision))
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CallbackResponse{Status: string(session.Status)})
}

func challengeResponse(s *models.LoginChallengeSession) ChallengeResponse {
	return ChallengeResponse{
		SessionID:     s.SessionID,
		Method:        string(s.Method),
		Status:        string(s.Status),
		Attempts:      s.Attempts,
		SentToChannel: s.SentToChannel,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
}
