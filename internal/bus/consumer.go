package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/metrics"
)

// Consumer drains the stream on one instance and rebroadcasts envelopes
// to locally connected clients. Each instance owns a durable consumer
// named after it, which gives the stream topic/fanout semantics: every
// instance sees every message.
type Consumer struct {
	js         jetstream.JetStream
	instanceID string
	marker     domain.DeliveryMarker
	local      domain.LocalBroadcaster
	archive    domain.MessageArchive // optional, best-effort
	ready      atomic.Bool
}

func NewConsumer(js jetstream.JetStream, instanceID string, marker domain.DeliveryMarker, local domain.LocalBroadcaster, archive domain.MessageArchive) *Consumer {
	return &Consumer{
		js:         js,
		instanceID: instanceID,
		marker:     marker,
		local:      local,
		archive:    archive,
	}
}

// Ready reports whether the consumption loop is attached to the stream.
// Wired into the readiness endpoint: a dead consumer means this instance
// cannot deliver, but it must not take down live connections.
func (c *Consumer) Ready() bool {
	return c.ready.Load()
}

// Run blocks on a single receive-process-acknowledge loop until ctx is
// cancelled. Returns an error when the stream or consumer cannot be set
// up; processing failures inside the loop only Nak the message.
func (c *Consumer) Run(ctx context.Context) error {
	stream, err := EnsureStream(ctx, c.js)
	if err != nil {
		return err
	}

	durable := durableName(c.instanceID)
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return err
	}

	iter, err := cons.Messages()
	if err != nil {
		return err
	}

	// Stop the iterator when ctx is cancelled so Next unblocks.
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	c.ready.Store(true)
	defer c.ready.Store(false)
	slog.Info("Fanout consumer started", "stream", streamName, "durable", durable)

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				slog.Info("Fanout consumer stopped")
				return nil
			}
			slog.Error("Fanout consumer receive failed", "error", err)
			continue
		}
		c.process(ctx, msg)
	}
}

// process handles one envelope: dedup check-and-set, local rebroadcast,
// then ack. Failures Nak so the bus redelivers; the marker makes
// redelivery safe.
func (c *Consumer) process(ctx context.Context, msg jetstream.Msg) {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		// Poison message: redelivery cannot fix it.
		slog.Warn("Discarding unparsable envelope", "error", err)
		c.ack(msg)
		return
	}

	first, err := c.marker.MarkDelivered(ctx, env.MessageID.String())
	if err != nil {
		slog.Error("Dedup check failed, requesting redelivery", "message_id", env.MessageID.String(), "error", err)
		c.nak(msg)
		return
	}
	if !first {
		slog.Warn("Duplicate message detected", "message_id", env.MessageID.String(), "channel_id", env.ChannelID)
		metrics.DuplicatesDropped.Inc()
		c.ack(msg)
		return
	}

	c.local.DeliverMessage(env.ChannelID, env)

	if c.archive != nil {
		if err := c.archive.Insert(ctx, env); err != nil {
			// Archival is best-effort; correctness never depends on it.
			slog.Warn("Message archival failed", "message_id", env.MessageID.String(), "error", err)
		}
	}

	c.ack(msg)
}

func (c *Consumer) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		slog.Warn("Failed to ack message", "error", err)
	}
}

func (c *Consumer) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		slog.Warn("Failed to nak message", "error", err)
	}
}

// durableName derives a JetStream-safe durable name from the instance id.
// Durable names must not contain dots, wildcards, spaces, or path
// separators, but hostnames in containerized deploys are often FQDNs.
func durableName(instanceID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t':
			return '-'
		}
		return r
	}, instanceID)
	return "fanout-" + sanitized
}
