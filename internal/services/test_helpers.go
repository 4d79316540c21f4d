package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
	"github.com/openclave/warden/internal/store"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

// Mock implementations with injectable behavior per test.

type mockUserRepo struct {
	getByIDFunc           func(ctx context.Context, userID string) (*models.User, error)
	commitTwofaChangeFunc func(ctx context.Context, userID string, change models.TwofaChange) error
}

func (m *mockUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) CommitTwofaChange(ctx context.Context, userID string, change models.TwofaChange) error {
	if m.commitTwofaChangeFunc != nil {
		return m.commitTwofaChangeFunc(ctx, userID, change)
	}
	return nil
}

type mockChannelLinkRepo struct {
	getLinkByUserFunc func(ctx context.Context, userID string) (*models.ChannelLink, error)
}

func (m *mockChannelLinkRepo) GetLinkByUser(ctx context.Context, userID string) (*models.ChannelLink, error) {
	if m.getLinkByUserFunc != nil {
		return m.getLinkByUserFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

// mockNotifier records every prompt it is asked to deliver.
type mockNotifier struct {
	mu       sync.Mutex
	sendFunc func(ctx context.Context, channelID string, kind PromptKind, token, action string) error
	sent     []sentPrompt
}

type sentPrompt struct {
	ChannelID string
	Kind      PromptKind
	Token     string
	Action    string
}

func (m *mockNotifier) SendApprovalPrompt(ctx context.Context, channelID string, kind PromptKind, token, action string) error {
	m.mu.Lock()
	m.sent = append(m.sent, sentPrompt{ChannelID: channelID, Kind: kind, Token: token, Action: action})
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, channelID, kind, token, action)
	}
	return nil
}

func (m *mockNotifier) prompts() []sentPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentPrompt, len(m.sent))
	copy(out, m.sent)
	return out
}

// memUserRepo is a stateful in-memory user repository for multi-step
// flow tests where commits must be visible to later reads.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserRepo(users ...*models.User) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *memUserRepo) GetByID(ctx context.Context, userID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) CommitTwofaChange(ctx context.Context, userID string, change models.TwofaChange) error {
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

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(newTestLogger())
}

const testGrace = 5 * time.Minute

func newTestStore() *store.MemoryStore {
	return store.NewMemoryStore(newTestLogger(), time.Minute)
}

func newTestSetupRepo() *repositories.TotpSetupRepository {
	return repositories.NewTotpSetupRepository(newTestStore(), testGrace)
}

func newTestPendingRepo() *repositories.PendingChangeRepository {
	return repositories.NewPendingChangeRepository(newTestStore(), testGrace)
}

func newTestChallengeRepo() *repositories.LoginChallengeRepository {
	return repositories.NewLoginChallengeRepository(newTestStore(), testGrace)
}

func testUser(id string, method models.TwofaMethod) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:          id,
		Email:       "user@example.com",
		TwofaMethod: method,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func confirmedLink(userID, channelID string) *models.ChannelLink {
	return &models.ChannelLink{
		UserID:    userID,
		ChannelID: channelID,
		Confirmed: true,
		CreatedAt: time.Now().UTC(),
	}
}
