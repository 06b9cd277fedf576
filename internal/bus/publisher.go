package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/metrics"
	"github.com/garloon/meet-and-greet-server/internal/platform/retry"
)

const (
	publishAttempts = 3
	publishBackoff  = 500 * time.Millisecond
)

// Publisher durably enqueues envelopes onto the stream. Implements
// domain.Bus.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// Publish serializes the envelope and enqueues it, retrying transient
// failures with exponential backoff. Retry exhaustion surfaces as an
// error to the caller but must never crash the publishing connection.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:    publishAttempts,
		InitialBackoff: publishBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Bus publish retry",
				"attempt", attempt,
				"message_id", env.MessageID.String(),
				"backoff", backoff,
				"error", err,
			)
		},
	}
	classify := func(error) retry.Action { return retry.Retry }

	err = retry.DoVoid(ctx, policy, classify, func() error {
		_, err := p.js.Publish(ctx, subject, data)
		return err
	})
	if err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("%w: publish: %v", domain.ErrBusUnavailable, err)
	}
	return nil
}
