package domain

import (
	"time"

	"github.com/google/uuid"
)

// Member is one online user in a channel as seen by presence listings.
type Member struct {
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Envelope is a chat message as it travels over the bus. MessageID is
// generated exactly once at publish time and is the dedup key; consumers
// must never regenerate it.
type Envelope struct {
	MessageID  uuid.UUID `json:"messageId"`
	ChannelID  string    `json:"channelId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sentAt"`
}

// NewEnvelope builds an envelope with a fresh message id.
func NewEnvelope(channelID, senderID, senderName, body string, sentAt time.Time) Envelope {
	return Envelope{
		MessageID:  uuid.New(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		SentAt:     sentAt,
	}
}
