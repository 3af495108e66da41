package zendesk

import "encoding/json"

// WebhookPayload is a Sunshine Conversations v2 webhook delivery.
type WebhookPayload struct {
	App struct {
		ID string `json:"id"`
	} `json:"app"`
	Events []WebhookEvent `json:"events"`
}

// WebhookEvent is one event of a webhook delivery.
type WebhookEvent struct {
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// EventConversationMessage is the webhook event type carrying messages.
const EventConversationMessage = "conversation:message"

// MessagePayload is the payload of a conversation:message event.
type MessagePayload struct {
	Conversation struct {
		ID   string `json:"id"`
		Type string `json:"type,omitempty"`
	} `json:"conversation"`
	Message Message `json:"message"`
}

// Message is a Sunshine conversation message.
type Message struct {
	ID       string  `json:"id,omitempty"`
	Received string  `json:"received,omitempty"`
	Author   Author  `json:"author"`
	Content  Content `json:"content"`
}

// Author of a message. Type is "user" or "business".
type Author struct {
	Type        string `json:"type"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Content of a message.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Event is what the relay publishes per message and what clients receive.
type Event struct {
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	Payload   struct {
		Message Message `json:"message"`
	} `json:"payload"`
}

// NewMessageEvent wraps a webhook message for publication.
func NewMessageEvent(createdAt string, msg Message) Event {
	ev := Event{Type: "message", CreatedAt: createdAt}
	ev.Payload.Message = msg
	return ev
}

// ConversationMessage is a message event addressed to one conversation.
type ConversationMessage struct {
	ConversationID string
	Event          Event
}

// MessageEvents extracts the conversation:message events of a delivery.
// Events with undecodable payloads are skipped.
func (p WebhookPayload) MessageEvents() []ConversationMessage {
	var out []ConversationMessage
	for _, ev := range p.Events {
		if ev.Type != EventConversationMessage {
			continue
		}
		var payload MessagePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.Conversation.ID == "" {
			continue
		}
		out = append(out, ConversationMessage{
			ConversationID: payload.Conversation.ID,
			Event:          NewMessageEvent(ev.CreatedAt, payload.Message),
		})
	}
	return out
}
