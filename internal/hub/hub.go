// Package hub implements the connection coordinator: it owns the
// lifecycle of client connections, translates client intents into
// presence store and bus operations, and pushes events to locally
// connected clients.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	apperrors "github.com/garloon/meet-and-greet-server/internal/errors"
	"github.com/garloon/meet-and-greet-server/internal/metrics"
)

// LocalGroups is the local broadcast-group surface the coordinator
// drives. Implemented by Registry.
type LocalGroups interface {
	JoinGroup(connectionID, channelID string)
	LeaveGroup(connectionID string)
	Send(connectionID string, event domain.Event)
	Broadcast(channelID string, event domain.Event)
}

// Coordinator is the per-instance chat state machine. Per-connection
// serialization comes from the single websocket read pump; different
// connections proceed fully in parallel.
type Coordinator struct {
	presence         domain.PresenceStore
	bus              domain.Bus
	limiter          domain.RateLimiter
	groups           LocalGroups
	clock            clockwork.Clock
	maxMessageLength int
}

func NewCoordinator(
	presence domain.PresenceStore,
	bus domain.Bus,
	limiter domain.RateLimiter,
	groups LocalGroups,
	clock clockwork.Clock,
	maxMessageLength int,
) *Coordinator {
	return &Coordinator{
		presence:         presence,
		bus:              bus,
		limiter:          limiter,
		groups:           groups,
		clock:            clock,
		maxMessageLength: maxMessageLength,
	}
}

// Join puts the connection's user into a channel. A user occupies at most
// one channel: joining while a member of a different channel evicts the
// old membership first (UserLeft to the old group, then UserJoined to the
// new one). Re-joining the current channel is an idempotent no-op.
func (c *Coordinator) Join(ctx context.Context, connectionID, channelID, userID, displayName, avatar string) error {
	if userID == "" {
		return apperrors.Validation("user id cannot be empty")
	}
	if channelID == "" {
		return apperrors.Validation("channel id cannot be empty")
	}
	displayName = guestName(userID, displayName)

	previous, occupied, err := c.presence.ResolveChannel(ctx, userID)
	if err != nil {
		return c.degraded("join", connectionID, userID, err)
	}

	if occupied && previous == channelID {
		// Same-channel re-join: refresh the membership, emit nothing.
		if err := c.presence.AddMembership(ctx, channelID, userID, connectionID, displayName, avatar); err != nil {
			return c.degraded("join", connectionID, userID, err)
		}
		c.groups.JoinGroup(connectionID, channelID)
		return nil
	}

	if occupied {
		if err := c.evict(ctx, previous, userID, connectionID); err != nil {
			return c.degraded("join", connectionID, userID, err)
		}
	}

	if err := c.presence.AddMembership(ctx, channelID, userID, connectionID, displayName, avatar); err != nil {
		return c.degraded("join", connectionID, userID, err)
	}
	c.groups.JoinGroup(connectionID, channelID)

	members, err := c.presence.ListMembers(ctx, channelID)
	if err != nil {
		return c.degraded("join", connectionID, userID, err)
	}
	c.groups.Broadcast(channelID, domain.UserJoinedEvent(channelID, displayName, members))

	slog.Info("User joined channel", "user_id", userID, "channel_id", channelID)
	return nil
}

// Leave removes the user from a channel and notifies its group.
func (c *Coordinator) Leave(ctx context.Context, connectionID, channelID, userID string) error {
	if err := c.evict(ctx, channelID, userID, connectionID); err != nil {
		return c.degraded("leave", connectionID, userID, err)
	}
	slog.Info("User left channel", "user_id", userID, "channel_id", channelID)
	return nil
}

// Disconnect handles transport-level connection loss. Unresolvable
// connections (already cleaned up, or never joined) are a no-op.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	userID, ok, err := c.presence.ResolveUser(ctx, connectionID)
	if err != nil {
		c.logDegraded("disconnect", connectionID, "", err)
		return
	}
	if !ok {
		return
	}

	channelID, ok, err := c.presence.ResolveChannel(ctx, userID)
	if err != nil {
		c.logDegraded("disconnect", connectionID, userID, err)
		return
	}
	if ok {
		if err := c.evict(ctx, channelID, userID, connectionID); err != nil {
			c.logDegraded("disconnect", connectionID, userID, err)
		}
		slog.Info("User disconnected from channel", "user_id", userID, "channel_id", channelID)
	}

	if err := c.presence.DeleteConnection(ctx, connectionID); err != nil {
		c.logDegraded("disconnect", connectionID, userID, err)
	}
}

// ForceLeaveAll evicts a user from every channel they occupy. Used when a
// session is invalidated out-of-band.
func (c *Coordinator) ForceLeaveAll(ctx context.Context, connectionID, userID string) error {
	channels, err := c.presence.ListChannelsForUser(ctx, userID)
	if err != nil {
		return c.degraded("force_leave_all", connectionID, userID, err)
	}

	for _, channelID := range channels {
		if err := c.evict(ctx, channelID, userID, connectionID); err != nil {
			return c.degraded("force_leave_all", connectionID, userID, err)
		}
	}

	if err := c.presence.DeleteConnection(ctx, connectionID); err != nil {
		return c.degraded("force_leave_all", connectionID, userID, err)
	}
	return nil
}

// SendMessage validates and publishes a message to the bus. Delivery to
// subscribers (including the sender) happens only through the fanout
// consumer, so there is a single delivery code path.
func (c *Coordinator) SendMessage(ctx context.Context, connectionID, channelID, senderID, displayName, body string) error {
	allowed, err := c.limiter.Allow(senderID)
	if err != nil {
		return apperrors.Validation("sender id cannot be empty")
	}
	if !allowed {
		metrics.ThrottledMessages.Inc()
		slog.Warn("Rate limit exceeded", "user_id", senderID)
		return apperrors.Throttled("message limit exceeded")
	}

	if body == "" {
		metrics.RejectedMessages.WithLabelValues("empty").Inc()
		return apperrors.Validation("message cannot be empty")
	}
	if utf8.RuneCountInString(body) > c.maxMessageLength {
		metrics.RejectedMessages.WithLabelValues("too_long").Inc()
		return apperrors.Validation("message is too long")
	}
	if channelID == "" {
		metrics.RejectedMessages.WithLabelValues("no_channel").Inc()
		return apperrors.Validation("channel id cannot be empty")
	}

	env := domain.NewEnvelope(channelID, senderID, guestName(senderID, displayName), body, c.clock.Now())
	if err := c.bus.Publish(ctx, env); err != nil {
		return c.degraded("send_message", connectionID, senderID, err)
	}

	metrics.MessagesPublished.Inc()
	slog.Debug("Message published", "message_id", env.MessageID.String(), "channel_id", channelID, "user_id", senderID)
	return nil
}

// Heartbeat refreshes the rolling TTL of the connection's presence keys.
// Heartbeats may race a just-completed disconnect; missing state is a
// no-op, not an error.
func (c *Coordinator) Heartbeat(ctx context.Context, connectionID string) {
	userID, ok, err := c.presence.ResolveUser(ctx, connectionID)
	if err != nil {
		c.logDegraded("heartbeat", connectionID, "", err)
		return
	}
	if !ok {
		return
	}
	if err := c.presence.Touch(ctx, userID, connectionID); err != nil {
		c.logDegraded("heartbeat", connectionID, userID, err)
	}
}

// DeliverMessage rebroadcasts an envelope to the channel's local group.
// Called by the fanout consumer; implements domain.LocalBroadcaster.
func (c *Coordinator) DeliverMessage(channelID string, env domain.Envelope) {
	c.groups.Broadcast(channelID, domain.ReceiveMessageEvent(channelID, env.SenderName, env.Body))
	metrics.MessagesDelivered.Inc()
}

// NotifyThrottled sends the throttle notice to a single connection.
func (c *Coordinator) NotifyThrottled(connectionID string) {
	c.groups.Send(connectionID, domain.ThrottledEvent())
}

// NotifyRejected sends a protocol rejection to a single connection.
func (c *Coordinator) NotifyRejected(connectionID, message string) {
	c.groups.Send(connectionID, domain.ErrorEvent("invalid_request", message))
}

// evict removes a membership, detaches the local group, and emits
// UserLeft with the remaining member list.
func (c *Coordinator) evict(ctx context.Context, channelID, userID, connectionID string) error {
	if err := c.presence.RemoveMembership(ctx, channelID, userID, connectionID); err != nil {
		return err
	}
	c.groups.LeaveGroup(connectionID)

	members, err := c.presence.ListMembers(ctx, channelID)
	if err != nil {
		return err
	}
	c.groups.Broadcast(channelID, domain.UserLeftEvent(channelID, userID, members))
	return nil
}

// degraded handles transient infrastructure failures: log, abort the
// operation, keep the connection alive. The raw fault never reaches the
// client.
func (c *Coordinator) degraded(operation, connectionID, userID string, err error) error {
	c.logDegraded(operation, connectionID, userID, err)
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrBusUnavailable) {
		return apperrors.Unavailable(operation+" degraded", err)
	}
	return apperrors.Internal(operation+" failed", err)
}

func (c *Coordinator) logDegraded(operation, connectionID, userID string, err error) {
	slog.Error("Presence operation degraded",
		"operation", operation,
		"connection_id", connectionID,
		"user_id", userID,
		"error", err,
	)
}

// guestName substitutes a placeholder display name derived from the user
// id so empty-name joins never surface as blank entries.
func guestName(userID, displayName string) string {
	if displayName != "" {
		return displayName
	}
	prefix := userID
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	return "Guest-" + prefix
}
