package redis

import (
	"context"
	"time"
)

// DedupMarker implements domain.DeliveryMarker with a SetNX check-and-set.
// The marker is scoped to one consumer instance: every instance must
// deliver every message to its own clients, so the key carries the
// instance id and only suppresses bus redelivery to the same instance.
type DedupMarker struct {
	rdb        *Client
	ttl        time.Duration
	instanceID string
}

func NewDedupMarker(client *Client, ttl time.Duration, instanceID string) *DedupMarker {
	return &DedupMarker{rdb: client, ttl: ttl, instanceID: instanceID}
}

// MarkDelivered returns true exactly once per message id on this instance
// within the marker TTL. Best-effort dedup: a crash after broadcast but
// before the marker is set can still produce a benign duplicate.
func (m *DedupMarker) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	first, err := m.rdb.rdb.SetNX(ctx, processedKey(messageID, m.instanceID), "1", m.ttl).Result()
	if err != nil {
		return false, storeErr("mark_delivered", err)
	}
	return first, nil
}

func processedKey(messageID, instanceID string) string {
	return "message:" + messageID + ":processed:" + instanceID
}
