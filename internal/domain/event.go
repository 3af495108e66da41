package domain

import (
	"encoding/json"
	"time"
)

// Event types synthesized by the widget rather than received from a vendor.
const (
	EventChatEnded        = "ChatEnded"
	EventHandoffConnected = "handoff-connected"
	EventUserMessage      = string(MessageUser)
)

// HandoffEvent is a formatted entry of the handoff transcript. Type is the
// tag the UI switches on; Raw keeps the vendor payload it was built from.
type HandoffEvent struct {
	Type       string          `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	Text       string          `json:"text,omitempty"`
	AuthorName string          `json:"authorName,omitempty"`
	Failed     bool            `json:"failed,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Time converts the millisecond timestamp.
func (e HandoffEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// NewEvent builds a synthetic event stamped with now.
func NewEvent(eventType, text string, now time.Time) HandoffEvent {
	return HandoffEvent{Type: eventType, Text: text, Timestamp: now.UnixMilli()}
}

// Normalized is the result of interpreting one vendor event. Event is nil
// when nothing should be displayed; AgentName is empty when the event names
// no agent.
type Normalized struct {
	AgentName string
	Event     *HandoffEvent
	ShouldEnd bool
}
