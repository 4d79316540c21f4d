package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/repositories"
)

type loginFixture struct {
	svc      *LoginChallengeService
	sessions *repositories.LoginChallengeRepository
	userRepo *memUserRepo
	notifier *mockNotifier
	totpMgr  *auth.TOTPManager
}

func newLoginFixture(t *testing.T, userRepo *memUserRepo, linkRepo repositories.ChannelLinkRepository) *loginFixture {
	t.Helper()

	totpMgr, err := auth.NewTOTPManager("Openclave")
	require.NoError(t, err)

	sessionRepo := newTestChallengeRepo()
	notifier := &mockNotifier{}
	svc := NewLoginChallengeService(userRepo, linkRepo, sessionRepo, totpMgr, notifier,
		newTestLogger(), newTestAudit(), LoginChallengeConfig{
			ChallengeTTL:      10 * time.Minute,
			MaxVerifyAttempts: 5,
			VerifyWindow:      1,
		})

	return &loginFixture{svc: svc, sessions: sessionRepo, userRepo: userRepo, notifier: notifier, totpMgr: totpMgr}
}

func totpUser(t *testing.T, totpMgr *auth.TOTPManager, lastStep *int64) *models.User {
	t.Helper()
	secret, err := totpMgr.GenerateSecret()
	require.NoError(t, err)
	now := time.Now().UTC()
	user := testUser("user-1", models.TwofaMethodTotp)
	user.TotpSecret = &secret
	user.LastTotpStep = lastStep
	user.TotpEnabledAt = &now
	return user
}

func (f *loginFixture) staleSession(t *testing.T, method models.TwofaMethod) *models.LoginChallengeSession {
	t.Helper()
	now := time.Now().UTC()
	session := &models.LoginChallengeSession{
		SessionID: "stale-login",
		UserID:    "user-1",
		Method:    method,
		Status:    models.SessionPending,
		CreatedAt: now.Add(-20 * time.Minute),
		ExpiresAt: now.Add(-time.Minute),
	}
	require.NoError(t, f.sessions.Save(context.Background(), session))
	return session
}

func TestCreateChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a pending session for the active method", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		assert.NotEmpty(t, session.SessionID)
		assert.Equal(t, models.SessionPending, session.Status)
		assert.Equal(t, 0, session.Attempts)
		assert.False(t, session.SentToChannel)
	})

	t.Run("rejects a method that does not match the profile", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		_, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("rejects none as a challenge method", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodNone)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		_, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodNone)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		fix := newLoginFixture(t, newMemUserRepo(), linkRepoFor(nil))

		_, err := fix.svc.CreateChallenge(ctx, "missing", models.TwofaMethodTotp)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestVerifyTotp(t *testing.T) {
	ctx := context.Background()

	t.Run("valid code marks the session used and returns the user", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		userRepo := newMemUserRepo(user)
		fix := newLoginFixture(t, userRepo, linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		step := fix.totpMgr.CurrentStep(time.Now())
		code, err := fix.totpMgr.HOTP(*user.TotpSecret, uint64(step))
		require.NoError(t, err)

		userID, err := fix.svc.VerifyTotp(ctx, session.SessionID, code)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionUsed, stored.Status)

		updated, err := userRepo.GetByID(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, updated.LastTotpStep)
		assert.Equal(t, step, *updated.LastTotpStep)
	})

	t.Run("used session rejects further verification", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		step := fix.totpMgr.CurrentStep(time.Now())
		code, err := fix.totpMgr.HOTP(*user.TotpSecret, uint64(step))
		require.NoError(t, err)

		_, err = fix.svc.VerifyTotp(ctx, session.SessionID, code)
		require.NoError(t, err)

		_, err = fix.svc.VerifyTotp(ctx, session.SessionID, code)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("code at an already consumed step is a replay", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)

		step := totpMgr.CurrentStep(time.Now())
		user := totpUser(t, totpMgr, &step)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		code, err := fix.totpMgr.HOTP(*user.TotpSecret, uint64(step))
		require.NoError(t, err)

		_, err = fix.svc.VerifyTotp(ctx, session.SessionID, code)
		assert.ErrorIs(t, err, models.ErrInvalidCode)

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, models.SessionPending, stored.Status)
	})

	t.Run("attempt ceiling denies the session", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err = fix.svc.VerifyTotp(ctx, session.SessionID, "000000")
			assert.ErrorIs(t, err, models.ErrInvalidCode)
		}

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionDenied, stored.Status)
		assert.Equal(t, 5, stored.Attempts)

		// the session is terminal; even a correct code cannot revive it
		step := fix.totpMgr.CurrentStep(time.Now())
		code, err := fix.totpMgr.HOTP(*user.TotpSecret, uint64(step))
		require.NoError(t, err)
		_, err = fix.svc.VerifyTotp(ctx, session.SessionID, code)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("concurrent attempts are counted exactly", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = fix.svc.VerifyTotp(ctx, session.SessionID, "000000")
			}()
		}
		wg.Wait()

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, 4, stored.Attempts)
		assert.Equal(t, models.SessionPending, stored.Status)
	})

	t.Run("expired session", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		stale := fix.staleSession(t, models.TwofaMethodTotp)

		_, err = fix.svc.VerifyTotp(ctx, stale.SessionID, "123456")
		assert.ErrorIs(t, err, models.ErrExpired)

		stored, err := fix.sessions.Get(ctx, stale.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, stored.Status)
	})

	t.Run("messaging session rejects code verification", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)

		_, err = fix.svc.VerifyTotp(ctx, session.SessionID, "123456")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("unknown session", func(t *testing.T) {
		fix := newLoginFixture(t, newMemUserRepo(), linkRepoFor(nil))

		_, err := fix.svc.VerifyTotp(ctx, "no-such-session", "123456")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestRequestChannelApproval(t *testing.T) {
	ctx := context.Background()

	t.Run("prompts the linked channel and records delivery", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)

		require.NoError(t, fix.svc.RequestChannelApproval(ctx, session.SessionID))

		prompts := fix.notifier.prompts()
		require.Len(t, prompts, 1)
		assert.Equal(t, "chan-42", prompts[0].ChannelID)
		assert.Equal(t, PromptLogin, prompts[0].Kind)
		assert.Equal(t, session.SessionID, prompts[0].Token)

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.True(t, stored.SentToChannel)

		// re-sending while pending is allowed
		require.NoError(t, fix.svc.RequestChannelApproval(ctx, session.SessionID))
		assert.Len(t, fix.notifier.prompts(), 2)
	})

	t.Run("totp session cannot be sent to a channel", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		err = fix.svc.RequestChannelApproval(ctx, session.SessionID)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("expired session", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		stale := fix.staleSession(t, models.TwofaMethodMessaging)

		err := fix.svc.RequestChannelApproval(ctx, stale.SessionID)
		assert.ErrorIs(t, err, models.ErrExpired)
	})

	t.Run("no channel link", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)

		err = fix.svc.RequestChannelApproval(ctx, session.SessionID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestLoginResolveFromCallback(t *testing.T) {
	ctx := context.Background()

	newMessagingFixture := func(t *testing.T) (*loginFixture, *models.LoginChallengeSession) {
		t.Helper()
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))
		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)
		return fix, session
	}

	t.Run("approval from the linked channel", func(t *testing.T) {
		fix, session := newMessagingFixture(t)

		resolved, err := fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionApprove)
		require.NoError(t, err)
		assert.Equal(t, models.SessionApproved, resolved.Status)
	})

	t.Run("denial from the linked channel", func(t *testing.T) {
		fix, session := newMessagingFixture(t)

		resolved, err := fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionDeny)
		require.NoError(t, err)
		assert.Equal(t, models.SessionDenied, resolved.Status)
	})

	t.Run("wrong channel is unauthorized", func(t *testing.T) {
		fix, session := newMessagingFixture(t)

		_, err := fix.svc.ResolveFromCallback(ctx, "chan-99", session.SessionID, models.DecisionApprove)
		assert.ErrorIs(t, err, models.ErrUnauthorized)

		stored, err := fix.sessions.Get(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionPending, stored.Status)
	})

	t.Run("late decision after denial is a no-op", func(t *testing.T) {
		fix, session := newMessagingFixture(t)

		_, err := fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionDeny)
		require.NoError(t, err)

		resolved, err := fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionApprove)
		require.NoError(t, err)
		assert.Equal(t, models.SessionDenied, resolved.Status)
	})

	t.Run("totp session rejects callbacks", func(t *testing.T) {
		totpMgr, err := auth.NewTOTPManager("Openclave")
		require.NoError(t, err)
		user := totpUser(t, totpMgr, nil)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
		require.NoError(t, err)

		_, err = fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionApprove)
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestCompleteApproved(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes an approved session exactly once", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)

		_, err = fix.svc.ResolveFromCallback(ctx, "chan-42", session.SessionID, models.DecisionApprove)
		require.NoError(t, err)

		userID, err := fix.svc.CompleteApproved(ctx, session.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", userID)

		_, err = fix.svc.CompleteApproved(ctx, session.SessionID)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("pending session cannot be completed", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		session, err := fix.svc.CreateChallenge(ctx, "user-1", models.TwofaMethodMessaging)
		require.NoError(t, err)

		_, err = fix.svc.CompleteApproved(ctx, session.SessionID)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("expired session", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(confirmedLink("user-1", "chan-42")))

		stale := fix.staleSession(t, models.TwofaMethodMessaging)

		_, err := fix.svc.CompleteApproved(ctx, stale.SessionID)
		assert.ErrorIs(t, err, models.ErrExpired)
	})
}

func TestLoginGetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("expiry is observed lazily and persisted", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		stale := fix.staleSession(t, models.TwofaMethodMessaging)

		got, err := fix.svc.GetStatus(ctx, stale.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.Status)

		stored, err := fix.sessions.Get(ctx, stale.SessionID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, stored.Status)
	})

	t.Run("unknown session", func(t *testing.T) {
		user := testUser("user-1", models.TwofaMethodMessaging)
		fix := newLoginFixture(t, newMemUserRepo(user), linkRepoFor(nil))

		_, err := fix.svc.GetStatus(ctx, "no-such-session")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

// Enrollment and first login share the engine end to end: the code spent
// on setup cannot be replayed at login, but the next step's code can.
func TestEnrollThenLoginFlow(t *testing.T) {
	ctx := context.Background()

	user := testUser("user-1", models.TwofaMethodNone)
	userRepo := newMemUserRepo(user)

	totpMgr, err := auth.NewTOTPManager("Openclave")
	require.NoError(t, err)

	lifecycle := NewLifecycleService(userRepo, newTestSetupRepo(), totpMgr, newTestLogger(), newTestAudit(), LifecycleConfig{
		SetupTTL:     5 * time.Minute,
		VerifyWindow: 1,
	})

	sessionRepo := newTestChallengeRepo()
	login := NewLoginChallengeService(userRepo, linkRepoFor(nil), sessionRepo, totpMgr, &mockNotifier{},
		newTestLogger(), newTestAudit(), LoginChallengeConfig{
			ChallengeTTL:      10 * time.Minute,
			MaxVerifyAttempts: 5,
			VerifyWindow:      1,
		})

	setup, err := lifecycle.BeginTotpSetup(ctx, "user-1")
	require.NoError(t, err)

	step := totpMgr.CurrentStep(time.Now())
	setupCode, err := totpMgr.HOTP(setup.Session.CandidateSecret, uint64(step))
	require.NoError(t, err)
	require.NoError(t, lifecycle.CompleteTotpSetup(ctx, "user-1", setup.Session.PendingID, setupCode))

	challenge, err := login.CreateChallenge(ctx, "user-1", models.TwofaMethodTotp)
	require.NoError(t, err)

	// the enrollment code's step is already consumed
	_, err = login.VerifyTotp(ctx, challenge.SessionID, setupCode)
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	nextCode, err := totpMgr.HOTP(setup.Session.CandidateSecret, uint64(step+1))
	require.NoError(t, err)

	userID, err := login.VerifyTotp(ctx, challenge.SessionID, nextCode)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	final, err := userRepo.GetByID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, final.LastTotpStep)
	assert.Equal(t, step+1, *final.LastTotpStep)
}
