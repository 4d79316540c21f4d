package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openclave/warden/internal/models"
	"github.com/openclave/warden/internal/store"
)

// Key scheme for the ephemeral store.
const (
	pendingChangeKeyPrefix  = "2fa:pending:"
	totpSetupKeyPrefix      = "2fa:totp-setup:"
	loginChallengeKeyPrefix = "2fa:login-session:"
)

// sessionCodec is shared by the three typed session repositories. Each
// value is written with a physical TTL of time-until-logical-expiry plus
// a grace period, so a client polling shortly after logical expiry still
// observes "expired" rather than "not found". A payload that no longer
// deserializes is reported as expired, never as a crash.
type sessionCodec struct {
	kv    store.KeyValueStore
	grace time.Duration
}

func (c sessionCodec) save(ctx context.Context, key string, v any, expiresAt time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return models.ErrInternalServer
	}

	ttl := time.Until(expiresAt) + c.grace
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.kv.Set(ctx, key, data, ttl)
}

func (c sessionCodec) load(ctx context.Context, key string, v any) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return models.ErrNotFound
		}
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return models.ErrExpired
	}
	return nil
}

// PendingChangeRepository persists method-change approval sessions.
type PendingChangeRepository struct {
	codec sessionCodec
}

func NewPendingChangeRepository(kv store.KeyValueStore, grace time.Duration) *PendingChangeRepository {
	return &PendingChangeRepository{codec: sessionCodec{kv: kv, grace: grace}}
}

func (r *PendingChangeRepository) Save(ctx context.Context, s *models.PendingMethodChange) error {
	return r.codec.save(ctx, pendingChangeKeyPrefix+s.PendingID, s, s.ExpiresAt)
}

func (r *PendingChangeRepository) Get(ctx context.Context, pendingID string) (*models.PendingMethodChange, error) {
	s := &models.PendingMethodChange{}
	if err := r.codec.load(ctx, pendingChangeKeyPrefix+pendingID, s); err != nil {
		return nil, err
	}
	return s, nil
}

// TotpSetupRepository persists enrollment sessions holding candidate
// secrets.
type TotpSetupRepository struct {
	codec sessionCodec
}

func NewTotpSetupRepository(kv store.KeyValueStore, grace time.Duration) *TotpSetupRepository {
	return &TotpSetupRepository{codec: sessionCodec{kv: kv, grace: grace}}
}

func (r *TotpSetupRepository) Save(ctx context.Context, s *models.TotpSetupSession) error {
	return r.codec.save(ctx, totpSetupKeyPrefix+s.PendingID, s, s.ExpiresAt)
}

func (r *TotpSetupRepository) Get(ctx context.Context, pendingID string) (*models.TotpSetupSession, error) {
	s := &models.TotpSetupSession{}
	if err := r.codec.load(ctx, totpSetupKeyPrefix+pendingID, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete discards a setup session once its candidate secret has been
// committed.
func (r *TotpSetupRepository) Delete(ctx context.Context, pendingID string) error {
	return r.codec.kv.Delete(ctx, totpSetupKeyPrefix+pendingID)
}

// LoginChallengeRepository persists login challenge sessions.
type LoginChallengeRepository struct {
	codec sessionCodec
}

func NewLoginChallengeRepository(kv store.KeyValueStore, grace time.Duration) *LoginChallengeRepository {
	return &LoginChallengeRepository{codec: sessionCodec{kv: kv, grace: grace}}
}

func (r *LoginChallengeRepository) Save(ctx context.Context, s *models.LoginChallengeSession) error {
	return r.codec.save(ctx, loginChallengeKeyPrefix+s.SessionID, s, s.ExpiresAt)
}

func (r *LoginChallengeRepository) Get(ctx context.Context, sessionID string) (*models.LoginChallengeSession, error) {
	s := &models.LoginChallengeSession{}
	if err := r.codec.load(ctx, loginChallengeKeyPrefix+sessionID, s); err != nil {
		return nil, err
	}
	return s, nil
}
