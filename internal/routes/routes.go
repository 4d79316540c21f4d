package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/config"
	"github.com/openclave/warden/internal/handlers"
	"github.com/openclave/warden/internal/middleware"
)

// Shared-secret headers for the two machine tiers.
const (
	ServiceKeyHeader     = "X-Service-Key"
	CallbackSecretHeader = "X-Callback-Secret"
)

// RegisterRoutes registers all application routes across the three
// caller tiers: account owners (bearer token), the auth service
// (service key) and the messaging bridge (callback secret).
func RegisterRoutes(
	router chi.Router,
	twofaHandler *handlers.TwofaHandler,
	loginHandler *handlers.LoginHandler,
	tokenVerifier *auth.TokenVerifier,
	cfg *config.Config,
) {
	verifyLimit := middleware.RateLimitByIP(middleware.DefaultVerifyRateLimit())
	callbackLimit := middleware.RateLimitByIP(middleware.DefaultCallbackRateLimit())

	// Method management: the acting user must hold a platform session.
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(tokenVerifier))

		r.Post("/2fa/totp/setup", twofaHandler.BeginTotpSetup)
		r.With(verifyLimit).Post("/2fa/totp/setup/verify", twofaHandler.VerifyTotpSetup)
		r.With(verifyLimit).Post("/2fa/totp/disable", twofaHandler.DisableTotp)

		r.Post("/2fa/method-change", twofaHandler.RequestMethodChange)
		r.Get("/2fa/method-change/{pendingID}", twofaHandler.GetMethodChangeStatus)
	})

	// Login flow: called by the auth service after the primary
	// credential check.
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSharedKey(ServiceKeyHeader, cfg.Auth.ServiceKey))

		r.Post("/login/2fa/challenges", loginHandler.CreateChallenge)
		r.Get("/login/2fa/challenges/{sessionID}", loginHandler.GetChallenge)
		r.Post("/login/2fa/challenges/{sessionID}/send", loginHandler.SendChallenge)
		r.With(verifyLimit).Post("/login/2fa/challenges/{sessionID}/verify", loginHandler.VerifyChallenge)
		r.Post("/login/2fa/challenges/{sessionID}/complete", loginHandler.CompleteChallenge)
	})

	// Decision callbacks: called by the messaging bridge relaying
	// channel replies.
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSharedKey(CallbackSecretHeader, cfg.Auth.CallbackSecret))
		r.Use(callbackLimit)

		r.Post("/callbacks/method-change", twofaHandler.MethodChangeCallback)
		r.Post("/callbacks/login", loginHandler.LoginCallback)
	})
}
