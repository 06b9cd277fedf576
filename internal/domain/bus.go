package domain

import "context"

// Bus durably enqueues envelopes for delivery to every instance's fanout
// consumer. At-least-once; dedup happens on the consuming side.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalBroadcaster pushes an event to every locally connected client
// subscribed to a channel. Implemented by the hub.
type LocalBroadcaster interface {
	DeliverMessage(channelID string, env Envelope)
}
