package front

import (
	"encoding/json"
	"strings"
)

// Webhook types delivered to an application channel.
const (
	WebhookMessage          = "message"
	WebhookMessageAutoreply = "message_autoreply"
	WebhookAuthorization    = "authorization"
	WebhookDelete           = "delete"
)

// Teammate is the author of an outbound Front message.
type Teammate struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// FullName joins the teammate's names.
func (t Teammate) FullName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// WebhookPayload is a channel webhook delivery.
type WebhookPayload struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Metadata struct {
		ExternalConversationID  string   `json:"external_conversation_id,omitempty"`
		ExternalConversationIDs []string `json:"external_conversation_ids,omitempty"`
	} `json:"metadata"`
}

// ConversationIDs lists the external conversations the delivery targets.
func (w WebhookPayload) ConversationIDs() []string {
	if len(w.Metadata.ExternalConversationIDs) > 0 {
		return w.Metadata.ExternalConversationIDs
	}
	if w.Metadata.ExternalConversationID != "" {
		return []string{w.Metadata.ExternalConversationID}
	}
	return nil
}

// MessagePayload is the payload of message and message_autoreply deliveries.
type MessagePayload struct {
	ID        string    `json:"id"`
	Body      string    `json:"body,omitempty"`
	Text      string    `json:"text,omitempty"`
	Author    *Teammate `json:"author,omitempty"`
	CreatedAt float64   `json:"created_at"`
}

// Event is what the relay publishes per message and what clients receive.
// CreatedAt is in seconds with fractional milliseconds.
type Event struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Author    Teammate `json:"author"`
	Body      string   `json:"body,omitempty"`
	Text      string   `json:"text,omitempty"`
	CreatedAt float64  `json:"created_at"`
}

// NewEvent builds the published event for a webhook message.
func NewEvent(webhookType string, msg MessagePayload) Event {
	ev := Event{
		Type:      webhookType,
		ID:        msg.ID,
		Body:      msg.Body,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
	if msg.Author != nil {
		ev.Author = *msg.Author
	}
	return ev
}

// WebhookResponse acknowledges a message delivery.
type WebhookResponse struct {
	Type                   string `json:"type"`
	ExternalID             string `json:"external_id,omitempty"`
	ExternalConversationID string `json:"external_conversation_id,omitempty"`
}

// Recipient is the end user on channel messages.
type Recipient struct {
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`
}

// MessageMetadata ties a channel message to its external conversation.
type MessageMetadata struct {
	ExternalID             string `json:"external_id"`
	ExternalConversationID string `json:"external_conversation_id"`
}
