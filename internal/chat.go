package internal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"workspacechat/internal/storage"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   int64
	Username string
}

// inboundMessage is the only frame a client may send.
type inboundMessage struct {
	Message *string `json:"message"`
}

// ChatMessage is the JSON shape of a message, both on the live socket and in
// the history endpoint.
type ChatMessage struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Sender     int64     `json:"sender"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
}

func newChatMessage(msg storage.Message) ChatMessage {
	return ChatMessage{
		ID:         msg.ID,
		Content:    msg.Content,
		Sender:     msg.SenderID,
		SenderName: msg.SenderName,
		Timestamp:  msg.CreatedAt.UTC(),
		IsRead:     msg.IsRead,
	}
}

// outboundEvent is the closed set of events a server pushes to clients.
type outboundEvent interface {
	isOutboundEvent()
}

type chatMessageEvent struct {
	Message ChatMessage
}

func (chatMessageEvent) isOutboundEvent() {}

func encodeEvent(event outboundEvent) ([]byte, error) {
	switch ev := event.(type) {
	case chatMessageEvent:
		return json.Marshal(ev.Message)
	default:
		return nil, fmt.Errorf("unknown outbound event %T", event)
	}
}

// decodeInbound extracts the message text from a client frame. Invalid JSON,
// a missing or non-string message, and blank text are all malformed.
func decodeInbound(payload []byte) (string, error) {
	var in inboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if in.Message == nil {
		return "", fmt.Errorf("%w: missing message field", ErrMalformedMessage)
	}
	if strings.TrimSpace(*in.Message) == "" {
		return "", fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	return *in.Message, nil
}
