package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

// LifecycleConfig holds method lifecycle settings
type LifecycleConfig struct {
	SetupTTL     time.Duration
	VerifyWindow int
}

// LifecycleService is the only writer of the twofa_* fields on a user's
// profile. Every transition is a single atomic commit; callers must
// already hold a verified decision (a good TOTP code or an approved
// out-of-band callback).
type LifecycleService struct {
	userRepo  repositories.UserRepository
	setupRepo *repositories.TotpSetupRepository
	totpMgr   *auth.TOTPManager
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
	config    LifecycleConfig
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	userRepo repositories.UserRepository,
	setupRepo *repositories.TotpSetupRepository,
	totpMgr *auth.TOTPManager,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config LifecycleConfig,
) *LifecycleService {
	return &LifecycleService{
		userRepo:  userRepo,
		setupRepo: setupRepo,
		totpMgr:   totpMgr,
		logger:    logger,
		audit:     audit,
		config:    config,
	}
}

// TotpSetup bundles what the enrollment UI needs to render.
type TotpSetup struct {
	Session         *models.TotpSetupSession
	ProvisioningURI string
	QRCode          string
}

// BeginTotpSetup generates a candidate secret and a short-lived setup
// session. The persisted profile is not touched until the first code is
// verified.
func (s *LifecycleService) BeginTotpSetup(ctx context.Context, userID string) (*TotpSetup, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.TwofaMethod == models.TwofaMethodTotp {
		return nil, models.ErrConflict
	}

	secret, err := s.totpMgr.GenerateSecret()
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now().UTC()
	session := &models.TotpSetupSession{
		PendingID:       uuid.NewString(),
		UserID:          userID,
		CandidateSecret: secret,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.config.SetupTTL),
	}

	if err := s.setupRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to store setup session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	uri, err := s.totpMgr.ProvisioningURI(secret, user.Email)
	if err != nil {
		s.logger.Error("failed to build provisioning URI", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	qr, err := s.totpMgr.ProvisioningQR(uri)
	if err != nil {
		s.logger.Error("failed to render provisioning QR", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("TOTP setup started",
		slog.String("user_id", userID),
		slog.String("pending_id", session.PendingID))

	return &TotpSetup{Session: session, ProvisioningURI: uri, QRCode: qr}, nil
}

// CompleteTotpSetup verifies the first code against the candidate secret
// and commits the profile change. The consumed step is recorded so the
// same code cannot be replayed at login. On a bad code the session is
// left intact for a retry.
func (s *LifecycleService) CompleteTotpSetup(ctx context.Context, userID, pendingID, code string) error {
	session, err := s.setupRepo.Get(ctx, pendingID)
	if err != nil {
		return err
	}

	if session.UserID != userID {
		return models.ErrUnauthorized
	}

	now := time.Now().UTC()
	if session.ExpiredAt(now) {
		return models.ErrExpired
	}

	ok, step := s.totpMgr.VerifyCode(session.CandidateSecret, code, now, s.config.VerifyWindow)
	if !ok {
		s.audit.Log(pkglogger.AuditEvent{
			EventType: "totp_setup_code_rejected",
			UserID:    userID,
			Success:   false,
		})
		return models.ErrInvalidCode
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	change := models.TwofaChange{
		Method:             models.TwofaMethodTotp,
		TotpSecret:         &session.CandidateSecret,
		LastTotpStep:       &step,
		TotpEnabledAt:      &now,
		MessagingEnabledAt: user.MessagingEnabledAt,
	}
	if err := s.userRepo.CommitTwofaChange(ctx, userID, change); err != nil {
		s.logger.Error("failed to commit TOTP enablement", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.setupRepo.Delete(ctx, pendingID); err != nil {
		// The candidate is already committed; a dangling session only
		// holds the same secret until its TTL elapses.
		s.logger.Warn("failed to discard setup session",
			slog.String("pending_id", pendingID), slog.Any("error", err))
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "totp_enabled",
		UserID:    userID,
		Success:   true,
	})

	return nil
}

// DisableTotp turns TOTP off. The code must be fresh: a step at or below
// the profile's last consumed step is rejected even when
// cryptographically correct, and the consumed step is recorded so the
// disable code cannot be spent twice.
func (s *LifecycleService) DisableTotp(ctx context.Context, userID, code string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.TwofaMethod != models.TwofaMethodTotp || user.TotpSecret == nil {
		return models.ErrValidation
	}

	now := time.Now().UTC()
	ok, step := s.totpMgr.VerifyCode(*user.TotpSecret, code, now, s.config.VerifyWindow)
	if !ok || (user.LastTotpStep != nil && step <= *user.LastTotpStep) {
		s.audit.Log(pkglogger.AuditEvent{
			EventType: "totp_disable_code_rejected",
			UserID:    userID,
			Success:   false,
		})
		return models.ErrInvalidCode
	}

	change := models.TwofaChange{
		Method:             models.TwofaMethodNone,
		TotpSecret:         nil,
		LastTotpStep:       &step,
		TotpEnabledAt:      nil,
		MessagingEnabledAt: user.MessagingEnabledAt,
	}
	if err := s.userRepo.CommitTwofaChange(ctx, userID, change); err != nil {
		s.logger.Error("failed to commit TOTP disable", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "totp_disabled",
		UserID:    userID,
		Success:   true,
	})

	return nil
}

// SetMessagingMethod toggles message-based 2FA. Called only by the
// method-change manager after an approved out-of-band decision. Enabling
// clears any TOTP secret; the last consumed step is kept so old codes
// stay burned.
func (s *LifecycleService) SetMessagingMethod(ctx context.Context, userID string, enabled bool) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	change := models.TwofaChange{
		Method:       models.TwofaMethodNone,
		LastTotpStep: user.LastTotpStep,
	}
	if enabled {
		change.Method = models.TwofaMethodMessaging
		change.MessagingEnabledAt = &now
	}

	if err := s.userRepo.CommitTwofaChange(ctx, userID, change); err != nil {
		s.logger.Error("failed to commit messaging method change", slog.Any("error", err))
		return models.ErrInternalServer
	}

	eventType := "messaging_disabled"
	if enabled {
		eventType = "messaging_enabled"
	}
	s.audit.Log(pkglogger.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   true,
	})

	return nil
}
