package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garloon/meet-and-greet-server/internal/domain"
)

// MessageArchive implements domain.MessageArchive. Messages flowing
// through the fanout consumer are mirrored here best-effort.
type MessageArchive struct {
	pool *pgxpool.Pool
}

func NewMessageArchive(pool *pgxpool.Pool) *MessageArchive {
	return &MessageArchive{pool: pool}
}

func (a *MessageArchive) Insert(ctx context.Context, env domain.Envelope) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, sender_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, env.MessageID, env.ChannelID, env.SenderID, env.SenderName, env.Body, env.SentAt)
	if err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

func (a *MessageArchive) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
