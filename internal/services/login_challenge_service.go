package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

// LoginChallengeConfig holds login challenge settings
type LoginChallengeConfig struct {
	ChallengeTTL      time.Duration
	MaxVerifyAttempts int
	VerifyWindow      int
}

// LoginChallengeService manages the second factor of a login. A
// challenge is created after the primary credential check and resolved
// either by a TOTP code or by an approval callback from the user's
// linked channel.
//
// State mutations on a single session are serialized through a
// per-session mutex so concurrent verify attempts cannot both read the
// same attempt counter.
type LoginChallengeService struct {
	userRepo    repositories.UserRepository
	linkRepo    repositories.ChannelLinkRepository
	sessionRepo *repositories.LoginChallengeRepository
	totpMgr     *auth.TOTPManager
	notifier    Notifier
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	config      LoginChallengeConfig

	sessionLocks sync.Map
}

// NewLoginChallengeService creates a new login challenge service
func NewLoginChallengeService(
	userRepo repositories.UserRepository,
	linkRepo repositories.ChannelLinkRepository,
	sessionRepo *repositories.LoginChallengeRepository,
	totpMgr *auth.TOTPManager,
	notifier Notifier,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config LoginChallengeConfig,
) *LoginChallengeService {
	return &LoginChallengeService{
		userRepo:    userRepo,
		linkRepo:    linkRepo,
		sessionRepo: sessionRepo,
		totpMgr:     totpMgr,
		notifier:    notifier,
		logger:      logger,
		audit:       audit,
		config:      config,
	}
}

func (s *LoginChallengeService) lockSession(sessionID string) *sync.Mutex {
	mu, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock
}

// CreateChallenge opens a login challenge for the user's active 2FA
// method. The requested method must match the profile so a caller
// cannot downgrade a TOTP account to a messaging approval.
func (s *LoginChallengeService) CreateChallenge(ctx context.Context, userID string, method models.TwofaMethod) (*models.LoginChallengeSession, error) {
	if method != models.TwofaMethodTotp && method != models.TwofaMethodMessaging {
		return nil, models.ErrValidation
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwofaMethod != method {
		return nil, models.ErrValidation
	}

	now := time.Now().UTC()
	session := &models.LoginChallengeSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Method:    method,
		Status:    models.SessionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.ChallengeTTL),
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to store login challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("login challenge created",
		slog.String("user_id", userID),
		slog.String("session_id", session.SessionID),
		slog.String("method", string(method)))

	return session, nil
}

// RequestChannelApproval prompts the user's linked channel to approve a
// messaging challenge. Safe to call again while the challenge is still
// pending; each call re-sends the prompt.
func (s *LoginChallengeService) RequestChannelApproval(ctx context.Context, sessionID string) error {
	lock := s.lockSession(sessionID)
	defer lock.Unlock()

	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Method != models.TwofaMethodMessaging {
		return models.ErrValidation
	}

	if session.Status == models.SessionPending && session.ExpiredAt(time.Now().UTC()) {
		session.Status = models.SessionExpired
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return models.ErrExpired
	}
	if session.Status != models.SessionPending {
		return models.ErrValidation
	}

	link, err := s.linkRepo.GetLinkByUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !link.Confirmed {
		return models.ErrValidation
	}

	if err := s.notifier.SendApprovalPrompt(ctx, link.ChannelID, PromptLogin, session.SessionID, ""); err != nil {
		s.logger.Error("failed to prompt channel for login approval",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	session.SentToChannel = true
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to persist prompt state",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	return nil
}

// VerifyTotp checks a submitted code against the user's secret. Each
// failed attempt counts toward the ceiling; the attempt that hits the
// ceiling denies the session. A code whose step was already consumed is
// rejected as a replay even when it would otherwise verify. On success
// the consumed step is committed to the profile and the session is
// marked used, returning the authenticated user id.
func (s *LoginChallengeService) VerifyTotp(ctx context.Context, sessionID, code string) (string, error) {
	lock := s.lockSession(sessionID)
	defer lock.Unlock()

	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if session.Method != models.TwofaMethodTotp {
		return "", models.ErrValidation
	}

	now := time.Now().UTC()
	if session.Status == models.SessionPending && session.ExpiredAt(now) {
		session.Status = models.SessionExpired
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return "", models.ErrExpired
	}
	if session.Status != models.SessionPending {
		return "", models.ErrValidation
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	if user.TwofaMethod != models.TwofaMethodTotp || user.TotpSecret == nil {
		return "", models.ErrValidation
	}

	session.Attempts++

	ok, step := s.totpMgr.VerifyCode(*user.TotpSecret, code, now, s.config.VerifyWindow)
	accepted := ok && (user.LastTotpStep == nil || step > *user.LastTotpStep)

	if !accepted {
		if session.Attempts >= s.config.MaxVerifyAttempts {
			session.Status = models.SessionDenied
			s.audit.Log(pkglogger.AuditEvent{
				EventType: "login_challenge_denied",
				UserID:    session.UserID,
				Success:   false,
				Reason:    "attempt ceiling reached",
			})
		}
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Error("failed to persist attempt count",
				slog.String("session_id", sessionID), slog.Any("error", err))
			return "", models.ErrInternalServer
		}
		return "", models.ErrInvalidCode
	}

	change := models.TwofaChange{
		Method:             models.TwofaMethodTotp,
		TotpSecret:         user.TotpSecret,
		LastTotpStep:       &step,
		TotpEnabledAt:      user.TotpEnabledAt,
		MessagingEnabledAt: user.MessagingEnabledAt,
	}
	if err := s.userRepo.CommitTwofaChange(ctx, session.UserID, change); err != nil {
		s.logger.Error("failed to record consumed TOTP step",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	session.Status = models.SessionUsed
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to persist session completion",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "login_challenge_verified",
		UserID:    session.UserID,
		Success:   true,
	})

	return session.UserID, nil
}

// ResolveFromCallback applies an approve/deny decision for a messaging
// challenge. The callback must come from the channel linked to the
// session's user. Decisions on non-pending sessions are no-ops so the
// bridge can retry safely.
func (s *LoginChallengeService) ResolveFromCallback(ctx context.Context, channelID, sessionID string, decision models.Decision) (*models.LoginChallengeSession, error) {
	if !decision.Valid() {
		return nil, models.ErrValidation
	}

	lock := s.lockSession(sessionID)
	defer lock.Unlock()

	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Method != models.TwofaMethodMessaging {
		return nil, models.ErrValidation
	}

	link, err := s.linkRepo.GetLinkByUser(ctx, session.UserID)
	if err != nil || link.ChannelID != channelID {
		s.audit.Log(pkglogger.AuditEvent{
			EventType: "login_callback_channel_mismatch",
			UserID:    session.UserID,
			Success:   false,
		})
		return nil, models.ErrUnauthorized
	}

	if session.Status == models.SessionPending && session.ExpiredAt(time.Now().UTC()) {
		session.Status = models.SessionExpired
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return session, nil
	}

	if session.Status != models.SessionPending {
		return session, nil
	}

	if decision == models.DecisionApprove {
		session.Status = models.SessionApproved
	} else {
		session.Status = models.SessionDenied
	}

	if err := s.sessionRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to persist login decision",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "login_challenge_" + string(session.Status),
		UserID:    session.UserID,
		Success:   session.Status == models.SessionApproved,
	})

	return session, nil
}

// CompleteApproved consumes an approved messaging challenge exactly
// once, returning the authenticated user id. A second completion finds
// the session used and fails.
func (s *LoginChallengeService) CompleteApproved(ctx context.Context, sessionID string) (string, error) {
	lock := s.lockSession(sessionID)
	defer lock.Unlock()

	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if session.Status == models.SessionPending && session.ExpiredAt(now) {
		session.Status = models.SessionExpired
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return "", models.ErrExpired
	}
	if session.Status != models.SessionApproved {
		return "", models.ErrValidation
	}

	session.Status = models.SessionUsed
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		s.logger.Error("failed to persist session completion",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "login_challenge_completed",
		UserID:    session.UserID,
		Success:   true,
	})

	return session.UserID, nil
}

// GetStatus returns the current state of a login challenge, observing
// expiry lazily.
func (s *LoginChallengeService) GetStatus(ctx context.Context, sessionID string) (*models.LoginChallengeSession, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionPending && session.ExpiredAt(time.Now().UTC()) {
		session.Status = models.SessionExpired
		if err := s.sessionRepo.Save(ctx, session); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}

	return session, nil
}
