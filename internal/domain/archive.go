package domain

import (
	"context"
	"time"
)

// MessageArchive mirrors delivered messages to durable storage. The core
// does not depend on it for correctness; failures are logged and ignored.
type MessageArchive interface {
	Insert(ctx context.Context, env Envelope) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChannelCatalog is the upstream channel registry. The core treats any
// non-empty channel id as valid; existence policy is enforced here.
type ChannelCatalog interface {
	Exists(ctx context.Context, channelID string) (bool, error)
	List(ctx context.Context) ([]Channel, error)
}

// Channel is a durable channel identity owned by the catalog.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
}
