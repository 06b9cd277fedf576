package domain

// Event type tags for server-to-client pushes. Throttle notices are
// distinct from protocol errors so a client can react differently.
const (
	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventReceiveMessage = "receiveMessage"
	EventThrottled      = "throttled"
	EventError          = "error"
)

// Event is the tagged JSON envelope pushed to clients.
type Event struct {
	Type string `json:"type"`

	// userJoined / userLeft
	DisplayName string            `json:"displayName,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ChannelID   string            `json:"channelId,omitempty"`
	Members     map[string]Member `json:"members,omitempty"`

	// receiveMessage
	SenderName string `json:"senderName,omitempty"`
	Body       string `json:"body,omitempty"`

	// throttled / error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func UserJoinedEvent(channelID, displayName string, members map[string]Member) Event {
	return Event{Type: EventUserJoined, ChannelID: channelID, DisplayName: displayName, Members: members}
}

func UserLeftEvent(channelID, userID string, members map[string]Member) Event {
	return Event{Type: EventUserLeft, ChannelID: channelID, UserID: userID, Members: members}
}

func ReceiveMessageEvent(channelID, senderName, body string) Event {
	return Event{Type: EventReceiveMessage, ChannelID: channelID, SenderName: senderName, Body: body}
}

func ThrottledEvent() Event {
	return Event{Type: EventThrottled, Message: "Message limit exceeded. Please wait."}
}

func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}
