package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

// MethodChangeConfig holds pending method-change settings
type MethodChangeConfig struct {
	PendingTTL time.Duration
}

// MethodChangeService manages out-of-band approval of messaging 2FA
// enable/disable requests. A request opens a pending record bound to the
// user's linked channel; only a decision callback arriving from that
// same channel can resolve it.
type MethodChangeService struct {
	userRepo    repositories.UserRepository
	linkRepo    repositories.ChannelLinkRepository
	pendingRepo *repositories.PendingChangeRepository
	lifecycle   *LifecycleService
	notifier    Notifier
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	config      MethodChangeConfig
}

// NewMethodChangeService creates a new method change service
func NewMethodChangeService(
	userRepo repositories.UserRepository,
	linkRepo repositories.ChannelLinkRepository,
	pendingRepo *repositories.PendingChangeRepository,
	lifecycle *LifecycleService,
	notifier Notifier,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config MethodChangeConfig,
) *MethodChangeService {
	return &MethodChangeService{
		userRepo:    userRepo,
		linkRepo:    linkRepo,
		pendingRepo: pendingRepo,
		lifecycle:   lifecycle,
		notifier:    notifier,
		logger:      logger,
		audit:       audit,
		config:      config,
	}
}

// RequestChange opens a pending method change and prompts the user's
// linked channel for approval. The profile is untouched until the
// channel approves.
func (s *MethodChangeService) RequestChange(ctx context.Context, userID string, action models.ChangeAction) (*models.PendingMethodChange, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	link, err := s.linkRepo.GetLinkByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !link.Confirmed {
		return nil, models.ErrValidation
	}

	switch action {
	case models.ChangeActionEnable:
		if user.TwofaMethod == models.TwofaMethodMessaging {
			return nil, models.ErrValidation
		}
	case models.ChangeActionDisable:
		if user.TwofaMethod != models.TwofaMethodMessaging {
			return nil, models.ErrValidation
		}
	default:
		return nil, models.ErrValidation
	}

	now := time.Now().UTC()
	pending := &models.PendingMethodChange{
		PendingID: uuid.NewString(),
		UserID:    userID,
		ChannelID: link.ChannelID,
		Method:    models.TwofaMethodMessaging,
		Action:    action,
		Status:    models.SessionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.PendingTTL),
	}

	if err := s.pendingRepo.Save(ctx, pending); err != nil {
		s.logger.Error("failed to store pending method change", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.notifier.SendApprovalPrompt(ctx, link.ChannelID, PromptMethodChange, pending.PendingID, string(action)); err != nil {
		s.logger.Error("failed to prompt channel for method change",
			slog.String("pending_id", pending.PendingID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("method change requested",
		slog.String("user_id", userID),
		slog.String("pending_id", pending.PendingID),
		slog.String("action", string(action)))

	return pending, nil
}

// GetStatus returns the current state of a pending change owned by
// userID. Expiry is observed lazily: a pending record past its deadline
// flips to expired on this read and the transition is persisted.
func (s *MethodChangeService) GetStatus(ctx context.Context, userID, pendingID string) (*models.PendingMethodChange, error) {
	pending, err := s.pendingRepo.Get(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	if pending.UserID != userID {
		return nil, models.ErrUnauthorized
	}

	if pending.Status == models.SessionPending && pending.ExpiredAt(time.Now().UTC()) {
		pending.Status = models.SessionExpired
		if err := s.pendingRepo.Save(ctx, pending); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("pending_id", pendingID), slog.Any("error", err))
		}
	}

	return pending, nil
}

// ResolveFromCallback applies an approve/deny decision relayed by the
// messaging bridge. The callback must originate from the channel the
// request was bound to; an approval commits the method flip through the
// lifecycle service. Decisions on non-pending records are no-ops so the
// bridge can retry safely.
func (s *MethodChangeService) ResolveFromCallback(ctx context.Context, channelID, pendingID string, decision models.Decision) (*models.PendingMethodChange, error) {
	if !decision.Valid() {
		return nil, models.ErrValidation
	}

	pending, err := s.pendingRepo.Get(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	if pending.ChannelID != channelID {
		s.audit.Log(pkglogger.AuditEvent{
			EventType: "method_change_callback_channel_mismatch",
			UserID:    pending.UserID,
			Success:   false,
		})
		return nil, models.ErrUnauthorized
	}

	if pending.Status == models.SessionPending && pending.ExpiredAt(time.Now().UTC()) {
		pending.Status = models.SessionExpired
		if err := s.pendingRepo.Save(ctx, pending); err != nil {
			s.logger.Warn("failed to persist expiry transition",
				slog.String("pending_id", pendingID), slog.Any("error", err))
		}
		return pending, nil
	}

	if pending.Status != models.SessionPending {
		return pending, nil
	}

	if decision == models.DecisionApprove {
		enabled := pending.Action == models.ChangeActionEnable
		if err := s.lifecycle.SetMessagingMethod(ctx, pending.UserID, enabled); err != nil {
			s.logger.Error("failed to apply approved method change",
				slog.String("pending_id", pendingID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		pending.Status = models.SessionApproved
	} else {
		pending.Status = models.SessionDenied
	}

	if err := s.pendingRepo.Save(ctx, pending); err != nil {
		s.logger.Error("failed to persist method change decision",
			slog.String("pending_id", pendingID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Log(pkglogger.AuditEvent{
		EventType: "method_change_" + string(pending.Status),
		UserID:    pending.UserID,
		Success:   pending.Status == models.SessionApproved,
		Metadata:  map[string]string{"action": string(pending.Action)},
	})

	return pending, nil
}
