package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openclave/warden/internal/database"
	"github.com/openclave/warden/internal/models"
)

// ChannelLinkRepository resolves the external messaging channel linked
// to a user. Linking and confirmation are handled elsewhere; this engine
// only reads the link to bind approval decisions to it.
type ChannelLinkRepository interface {
	GetLinkByUser(ctx context.Context, userID string) (*models.ChannelLink, error)
}

type channelLinkRepoImpl struct {
	pool *pgxpool.Pool
}

// NewChannelLinkRepository creates a Postgres-backed channel link repository.
func NewChannelLinkRepository(db *database.DB) ChannelLinkRepository {
	return &channelLinkRepoImpl{pool: db.Pool}
}

func (r *channelLinkRepoImpl) GetLinkByUser(ctx context.Context, userID string) (*models.ChannelLink, error) {
	link := &models.ChannelLink{}

	query := `
		SELECT user_id, channel_id, confirmed, created_at
		FROM channel_links
		WHERE user_id = $1
	`

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&link.UserID,
		&link.ChannelID,
		&link.Confirmed,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return link, nil
}
