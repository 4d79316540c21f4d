package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openclave/warden/internal/database"
	"github.com/openclave/warden/internal/models"
)

// UserRepository reads user security profiles and applies 2FA commits.
// The rest of the user record is owned by the platform's user service.
type UserRepository interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	// CommitTwofaChange applies every twofa_* field of the change in one
	// atomic statement. Setup completion, disable and the messaging
	// toggle are its only callers.
	CommitTwofaChange(ctx context.Context, userID string, change models.TwofaChange) error
}

type userRepoImpl struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a Postgres-backed user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepoImpl{pool: db.Pool}
}

func (r *userRepoImpl) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	var method string

	query := `
		SELECT id, email, twofa_method, twofa_totp_secret, twofa_last_totp_step,
		       twofa_totp_enabled_at, twofa_messaging_enabled_at,
		       created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&method,
		&user.TotpSecret,
		&user.LastTotpStep,
		&user.TotpEnabledAt,
		&user.MessagingEnabledAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.TwofaMethod = models.TwofaMethod(method)
	return user, nil
}

func (r *userRepoImpl) CommitTwofaChange(ctx context.Context, userID string, change models.TwofaChange) error {
	query := `
		UPDATE users
		SET twofa_method = $1,
		    twofa_totp_secret = $2,
		    twofa_last_totp_step = $3,
		    twofa_totp_enabled_at = $4,
		    twofa_messaging_enabled_at = $5,
		    updated_at = NOW()
		WHERE id = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		string(change.Method),
		change.TotpSecret,
		change.LastTotpStep,
		change.TotpEnabledAt,
		change.MessagingEnabledAt,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to commit 2FA change: %w", database.MapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
