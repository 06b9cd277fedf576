// Package bus implements the durable fanout pipeline on NATS JetStream.
// Producers publish envelopes to a file-backed stream; every instance
// runs its own durable consumer, so each message reaches each instance
// at least once. Dedup happens on the consuming side.
package bus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "CHAT_MESSAGES"
	subject    = "chat.messages"
)

// Connect dials NATS with reconnect enabled. name shows up in NATS
// monitoring to identify the instance.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// EnsureStream creates or updates the chat message stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	return js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.LimitsPolicy,
		MaxMsgs:   100000,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
}
