package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
	"github.com/openclave/warden/internal/services"
	"github.com/openclave/warden/internal/store"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

// Handler tests run against real services over in-memory backends; only
// the database-facing repositories and the notifier are faked.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *fakeUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) CommitTwofaChange(ctx context.Context, userID string, change models.TwofaChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.TwofaMethod = change.Method
	u.TotpSecret = change.TotpSecret
	u.LastTotpStep = change.LastTotpStep
	u.TotpEnabledAt = change.TotpEnabledAt
	u.MessagingEnabledAt = change.MessagingEnabledAt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeLinkRepo struct {
	link *models.ChannelLink
}

func (r *fakeLinkRepo) GetLinkByUser(ctx context.Context, userID string) (*models.ChannelLink, error) {
	if r.link == nil || r.link.UserID != userID {
		return nil, models.ErrNotFound
	}
	return r.link, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent int
}

func (n *fakeNotifier) SendApprovalPrompt(ctx context.Context, channelID string, kind services.PromptKind, token, action string) error {
	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
	return nil
}

type handlerFixture struct {
	twofa    *TwofaHandler
	login    *LoginHandler
	userRepo *fakeUserRepo
	totpMgr  *auth.TOTPManager
	notifier *fakeNotifier
}

func newHandlerFixture(t *testing.T, userRepo *fakeUserRepo, link *models.ChannelLink) *handlerFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)

	totpMgr, err := auth.NewTOTPManager("Openclave")
	require.NoError(t, err)

	grace := 5 * time.Minute
	kv := store.NewMemoryStore(logger, time.Minute)
	setupRepo := repositories.NewTotpSetupRepository(kv, grace)
	pendingRepo := repositories.NewPendingChangeRepository(kv, grace)
	challengeRepo := repositories.NewLoginChallengeRepository(kv, grace)

	linkRepo := &fakeLinkRepo{link: link}
	notifier := &fakeNotifier{}

	lifecycle := services.NewLifecycleService(userRepo, setupRepo, totpMgr, logger, audit, services.LifecycleConfig{
		SetupTTL:     5 * time.Minute,
		VerifyWindow: 1,
	})
	methodChange := services.NewMethodChangeService(userRepo, linkRepo, pendingRepo, lifecycle, notifier, logger, audit, services.MethodChangeConfig{
		PendingTTL: 5 * time.Minute,
	})
	challenges := services.NewLoginChallengeService(userRepo, linkRepo, challengeRepo, totpMgr, notifier, logger, audit, services.LoginChallengeConfig{
		ChallengeTTL:      10 * time.Minute,
		MaxVerifyAttempts: 5,
		VerifyWindow:      1,
	})

	return &handlerFixture{
		twofa:    NewTwofaHandler(lifecycle, methodChange, logger),
		login:    NewLoginHandler(challenges, logger),
		userRepo: userRepo,
		totpMgr:  totpMgr,
		notifier: notifier,
	}
}

// asUser injects verified claims the way the bearer middleware would.
func asUser(r *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{Type: "access", UserID: userID, Email: "user@example.com"}
	ctx := context.WithValue(r.Context(), auth.UserContextKey, claims)
	return r.WithContext(ctx)
}
