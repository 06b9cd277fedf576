package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garloon/meet-and-greet-server/internal/domain"
)

func newTestPresenceStore(t *testing.T) (*PresenceStore, *Client) {
	t.Helper()
	client := setupTestClient(t)
	return NewPresenceStore(client, time.Hour, 5*time.Minute), client
}

func TestPresence_MembershipRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", "alice.png"))

	userID, ok, err := store.ResolveUser(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-1", userID)

	channelID, ok, err := store.ResolveChannel(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lobby", channelID)

	members, err := store.ListMembers(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.Member{DisplayName: "Alice", Avatar: "alice.png"}, members["user-1"])
}

func TestPresence_RemoveMembership(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))
	require.NoError(t, store.AddMembership(ctx, "lobby", "user-2", "conn-2", "Bob", ""))

	require.NoError(t, store.RemoveMembership(ctx, "lobby", "user-1", "conn-1"))

	_, ok, err := store.ResolveChannel(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.ResolveUser(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := store.ListMembers(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members, "user-2")
}

func TestPresence_RemoveMembershipIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	assert.NoError(t, store.RemoveMembership(ctx, "lobby", "user-1", "conn-1"))
}

func TestPresence_ResolveUnknown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	_, ok, err := store.ResolveUser(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.ResolveChannel(ctx, "never-seen")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPresence_ListMembersSelfHeals(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, client := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))
	require.NoError(t, store.AddMembership(ctx, "lobby", "user-2", "conn-2", "Bob", ""))

	// Simulate an expired connection for user-2.
	require.NoError(t, client.Underlying().Del(ctx, connectionKey("conn-2")).Err())

	members, err := store.ListMembers(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members, "user-1")

	// The stale hash entry is gone for good.
	entries, err := client.Underlying().HGetAll(ctx, channelUsersKey("lobby")).Result()
	require.NoError(t, err)
	assert.NotContains(t, entries, "user-2")
}

func TestPresence_MembershipKeysExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, client := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))

	for _, key := range []string{
		userNameKey("user-1"),
		userChannelKey("user-1"),
		connectionKey("conn-1"),
		channelUsersKey("lobby"),
	} {
		ttl, err := client.Underlying().TTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0), "key %s should carry a TTL", key)
		assert.LessOrEqual(t, ttl, time.Hour)
	}
}

func TestPresence_TouchRefreshesToActivityTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, client := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))
	require.NoError(t, store.Touch(ctx, "user-1", "conn-1"))

	ttl, err := client.Underlying().TTL(ctx, userChannelKey("user-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Minute)

	ttl, err = client.Underlying().TTL(ctx, channelUsersKey("lobby")).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 5*time.Minute)
}

func TestPresence_TouchWithoutMembership(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	assert.NoError(t, store.Touch(ctx, "user-1", "conn-1"))
}

func TestPresence_ListChannelsForUser(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	channels, err := store.ListChannelsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, channels)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))

	channels, err = store.ListChannelsForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, channels)
}

func TestPresence_ReapOrphans(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, client := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))
	require.NoError(t, store.AddMembership(ctx, "lobby", "user-2", "conn-2", "Bob", ""))
	require.NoError(t, store.AddMembership(ctx, "games", "user-3", "conn-3", "Cara", ""))

	// user-2's connection expired; user-3's whole channel went dark.
	require.NoError(t, client.Underlying().Del(ctx, connectionKey("conn-2")).Err())
	require.NoError(t, client.Underlying().Del(ctx, connectionKey("conn-3")).Err())

	reaped, emptied, err := store.ReapOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reaped)
	assert.Equal(t, 1, emptied, "the games hash shrank to empty and was deleted")

	members, err := store.ListMembers(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Contains(t, members, "user-1")

	exists, err := client.Underlying().Exists(ctx, channelUsersKey("games")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestPresence_ReapOrphansNothingToDo(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	store, _ := newTestPresenceStore(t)

	require.NoError(t, store.AddMembership(ctx, "lobby", "user-1", "conn-1", "Alice", ""))

	reaped, emptied, err := store.ReapOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
	assert.Zero(t, emptied)
}
