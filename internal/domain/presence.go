package domain

import "context"

// PresenceStore is the shared, TTL-capable store of connection/user/channel
// mappings. All operations are idempotent or safely retryable; transient
// connectivity failures surface as ErrStoreUnavailable.
type PresenceStore interface {
	// AddMembership writes all presence key families for the user in the
	// channel. It overwrites a prior membership in the same channel but
	// does not evict membership in a different channel; callers evict
	// explicitly first.
	AddMembership(ctx context.Context, channelID, userID, connectionID, displayName, avatar string) error

	// RemoveMembership deletes the membership keys transactionally.
	RemoveMembership(ctx context.Context, channelID, userID, connectionID string) error

	// ResolveUser returns the user owning a connection, or ok=false when
	// the connection key is absent or expired.
	ResolveUser(ctx context.Context, connectionID string) (userID string, ok bool, err error)

	// ResolveChannel returns the single channel a user currently occupies.
	ResolveChannel(ctx context.Context, userID string) (channelID string, ok bool, err error)

	// ListMembers returns the live members of a channel. Entries whose
	// connection key has expired are deleted opportunistically.
	ListMembers(ctx context.Context, channelID string) (map[string]Member, error)

	// Touch refreshes the rolling TTL on the user's presence keys.
	Touch(ctx context.Context, userID, connectionID string) error

	// ListChannelsForUser returns the channels a user occupies (at most
	// one today; kept as a list for multi-channel membership later).
	ListChannelsForUser(ctx context.Context, userID string) ([]string, error)

	// DeleteConnection removes the connection-to-user mapping.
	DeleteConnection(ctx context.Context, connectionID string) error
}

// DeliveryMarker records which message ids this instance has already
// delivered, guarding against bus-level redelivery. Markers are scoped to
// one consumer instance: every instance delivers every message to its own
// clients, so a marker must never suppress another instance's delivery.
// Best-effort: the check-and-set is atomic, but a crash between broadcast
// and marking can still duplicate.
type DeliveryMarker interface {
	// MarkDelivered returns true if this is the first delivery of the
	// message id on this instance, false if it was already marked.
	MarkDelivered(ctx context.Context, messageID string) (bool, error)
}
