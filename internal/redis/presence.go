package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// memberEntry is the serialized value of one channel hash field.
type memberEntry struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Avatar       string `json:"avatar,omitempty"`
}

// PresenceStore is the Redis-backed implementation of domain.PresenceStore.
type PresenceStore struct {
	rdb           *goredis.Client
	membershipTTL time.Duration
	activityTTL   time.Duration
}

// NewPresenceStore creates a presence store. membershipTTL is applied on
// join; activityTTL is the rolling window refreshed by Touch.
func NewPresenceStore(client *Client, membershipTTL, activityTTL time.Duration) *PresenceStore {
	return &PresenceStore{
		rdb:           client.rdb,
		membershipTTL: membershipTTL,
		activityTTL:   activityTTL,
	}
}

func (s *PresenceStore) AddMembership(ctx context.Context, channelID, userID, connectionID, displayName, avatar string) error {
	entry, err := json.Marshal(memberEntry{
		ConnectionID: connectionID,
		DisplayName:  displayName,
		Avatar:       avatar,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal member entry: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, userNameKey(userID), displayName, s.membershipTTL)
	pipe.Set(ctx, userChannelKey(userID), channelID, s.membershipTTL)
	pipe.Set(ctx, connectionKey(connectionID), userID, s.membershipTTL)
	pipe.HSet(ctx, channelUsersKey(channelID), userID, string(entry))
	pipe.Expire(ctx, channelUsersKey(channelID), s.membershipTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("add_membership", err)
	}
	return nil
}

// RemoveMembership deletes the membership keys in a single MULTI/EXEC so
// concurrent readers never observe a half-removed state.
func (s *PresenceStore) RemoveMembership(ctx context.Context, channelID, userID, connectionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, userChannelKey(userID))
	pipe.Del(ctx, connectionKey(connectionID))
	pipe.HDel(ctx, channelUsersKey(channelID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("remove_membership", err)
	}
	return nil
}

func (s *PresenceStore) ResolveUser(ctx context.Context, connectionID string) (string, bool, error) {
	userID, err := s.rdb.Get(ctx, connectionKey(connectionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("resolve_user", err)
	}
	return userID, true, nil
}

func (s *PresenceStore) ResolveChannel(ctx context.Context, userID string) (string, bool, error) {
	channelID, err := s.rdb.Get(ctx, userChannelKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("resolve_channel", err)
	}
	return channelID, true, nil
}

// ListMembers returns the live members of a channel. Entries whose
// connection key has expired are deleted on the way (self-healing read).
func (s *PresenceStore) ListMembers(ctx context.Context, channelID string) (map[string]domain.Member, error) {
	entries, err := s.rdb.HGetAll(ctx, channelUsersKey(channelID)).Result()
	if err != nil {
		return nil, storeErr("list_members", err)
	}

	members := make(map[string]domain.Member, len(entries))
	for userID, raw := range entries {
		var entry memberEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			slog.Warn("Dropping unparsable member entry", "channel_id", channelID, "user_id", userID, "error", err)
			s.reapEntry(ctx, channelID, userID, "list_members")
			continue
		}

		alive, err := s.connectionAlive(ctx, entry.ConnectionID, userID)
		if err != nil {
			return nil, err
		}
		if !alive {
			s.reapEntry(ctx, channelID, userID, "list_members")
			continue
		}

		members[userID] = domain.Member{DisplayName: entry.DisplayName, Avatar: entry.Avatar}
	}
	return members, nil
}

// Touch refreshes the rolling TTL on the user's presence keys. Called on
// heartbeat; a missing channel key is not an error.
func (s *PresenceStore) Touch(ctx context.Context, userID, connectionID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Expire(ctx, userChannelKey(userID), s.activityTTL)
	pipe.Expire(ctx, connectionKey(connectionID), s.activityTTL)
	pipe.Expire(ctx, userNameKey(userID), s.activityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("touch", err)
	}

	channelID, ok, err := s.ResolveChannel(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		if err := s.rdb.Expire(ctx, channelUsersKey(channelID), s.activityTTL).Err(); err != nil {
			return storeErr("touch", err)
		}
	}
	return nil
}

// ListChannelsForUser returns at most one channel today; the list shape
// leaves room for multi-channel membership.
func (s *PresenceStore) ListChannelsForUser(ctx context.Context, userID string) ([]string, error) {
	channelID, ok, err := s.ResolveChannel(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []string{channelID}, nil
}

func (s *PresenceStore) DeleteConnection(ctx context.Context, connectionID string) error {
	if err := s.rdb.Del(ctx, connectionKey(connectionID)).Err(); err != nil {
		return storeErr("delete_connection", err)
	}
	return nil
}

// --- Reconciliation support ---

// ReapOrphans scans channel membership hashes and removes entries whose
// connection key has expired, then deletes membership hashes that have
// shrunk to empty. Returns the number of entries and hashes removed.
func (s *PresenceStore) ReapOrphans(ctx context.Context) (reaped, emptied int, err error) {
	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			return reaped, emptied, fmt.Errorf("sweep cancelled after %d removals: %w", reaped, ctx.Err())
		default:
		}

		keys, nextCursor, err := s.rdb.Scan(ctx, cursor, "channel:*:users", 100).Result()
		if err != nil {
			return reaped, emptied, storeErr("sweep_scan", err)
		}

		for _, key := range keys {
			channelID := channelIDFromUsersKey(key)
			if channelID == "" {
				continue
			}

			n, err := s.reapChannel(ctx, channelID)
			if err != nil {
				slog.Warn("Sweep: channel reap failed", "channel_id", channelID, "error", err)
				continue
			}
			reaped += n

			size, err := s.rdb.HLen(ctx, key).Result()
			if err != nil {
				continue
			}
			if size == 0 {
				if err := s.rdb.Del(ctx, key).Err(); err == nil {
					emptied++
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return reaped, emptied, nil
}

func (s *PresenceStore) reapChannel(ctx context.Context, channelID string) (int, error) {
	entries, err := s.rdb.HGetAll(ctx, channelUsersKey(channelID)).Result()
	if err != nil {
		return 0, storeErr("sweep_list", err)
	}

	removed := 0
	for userID, raw := range entries {
		var entry memberEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.reapEntry(ctx, channelID, userID, "sweep")
			removed++
			continue
		}

		exists, err := s.rdb.Exists(ctx, connectionKey(entry.ConnectionID)).Result()
		if err != nil {
			return removed, storeErr("sweep_check", err)
		}
		if exists == 0 {
			// Same removal path as a disconnect.
			if err := s.RemoveMembership(ctx, channelID, userID, entry.ConnectionID); err != nil {
				slog.Warn("Sweep: removal failed", "channel_id", channelID, "user_id", userID, "error", err)
				continue
			}
			metrics.StaleMembersReaped.WithLabelValues("sweep").Inc()
			removed++
		}
	}
	return removed, nil
}

// --- Helpers ---

func (s *PresenceStore) connectionAlive(ctx context.Context, connectionID, userID string) (bool, error) {
	pipe := s.rdb.Pipeline()
	connExists := pipe.Exists(ctx, connectionKey(connectionID))
	chanExists := pipe.Exists(ctx, userChannelKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, storeErr("list_members", err)
	}
	return connExists.Val() > 0 && chanExists.Val() > 0, nil
}

func (s *PresenceStore) reapEntry(ctx context.Context, channelID, userID, source string) {
	if err := s.rdb.HDel(ctx, channelUsersKey(channelID), userID).Err(); err != nil {
		slog.Warn("Failed to delete stale member entry", "channel_id", channelID, "user_id", userID, "error", err)
		return
	}
	metrics.StaleMembersReaped.WithLabelValues(source).Inc()
}

func storeErr(operation string, err error) error {
	metrics.StoreErrors.WithLabelValues(operation).Inc()
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, operation, err)
}

// --- Key helpers ---

func userNameKey(userID string) string {
	return "user:" + userID + ":name"
}

func userChannelKey(userID string) string {
	return "user:" + userID + ":channel"
}

func connectionKey(connectionID string) string {
	return "connection:" + connectionID + ":user"
}

func channelUsersKey(channelID string) string {
	return "channel:" + channelID + ":users"
}

func channelIDFromUsersKey(key string) string {
	trimmed := strings.TrimPrefix(key, "channel:")
	trimmed = strings.TrimSuffix(trimmed, ":users")
	if trimmed == key {
		return ""
	}
	return trimmed
}
