package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garloon/meet-and-greet-server/internal/domain"
)

// ChannelRepo implements domain.ChannelCatalog.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Exists(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM channels WHERE id = $1)`, channelID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check channel existence: %w", err)
	}
	return exists, nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, is_public FROM channels WHERE is_public ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.IsPublic); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// Seed inserts the default channels if they are missing. Idempotent.
func (r *ChannelRepo) Seed(ctx context.Context, channels []domain.Channel) error {
	for _, ch := range channels {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO channels (id, name, description, is_public)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, ch.ID, ch.Name, ch.Description, ch.IsPublic)
		if err != nil {
			return fmt.Errorf("failed to seed channel %s: %w", ch.ID, err)
		}
		if tag.RowsAffected() > 0 {
			slog.Info("Created channel", "channel_id", ch.ID, "name", ch.Name)
		}
	}
	return nil
}
