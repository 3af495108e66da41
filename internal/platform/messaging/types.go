package messaging

import "encoding/json"

// Sender roles on conversation entries.
const (
	RoleEndUser = "EndUser"
	RoleAgent   = "Agent"
	RoleChatbot = "Chatbot"
	RoleSystem  = "System"
)

// Envelope is the relay frame for one event-router event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ConversationEvent is the data of conversation events.
type ConversationEvent struct {
	ConversationID    string            `json:"conversationId"`
	ConversationEntry ConversationEntry `json:"conversationEntry"`
}

// ConversationEntry is one entry of the conversation log.
type ConversationEntry struct {
	Identifier        string `json:"identifier,omitempty"`
	EntryType         string `json:"entryType"`
	SenderDisplayName string `json:"senderDisplayName,omitempty"`
	Sender            struct {
		Role    string `json:"role"`
		AppType string `json:"appType,omitempty"`
	} `json:"sender"`
	// EntryPayload is itself JSON encoded as a string.
	EntryPayload    string `json:"entryPayload,omitempty"`
	ClientTimestamp int64  `json:"clientTimestamp,omitempty"`
}

// Text extracts static text content from the entry payload.
func (e ConversationEntry) Text() string {
	if e.EntryPayload == "" {
		return ""
	}
	var payload struct {
		AbstractMessage struct {
			StaticContent struct {
				Text string `json:"text"`
			} `json:"staticContent"`
		} `json:"abstractMessage"`
	}
	if err := json.Unmarshal([]byte(e.EntryPayload), &payload); err != nil {
		return ""
	}
	return payload.AbstractMessage.StaticContent.Text
}

// FromAgent reports whether a human agent or bot on the Salesforce side sent
// the entry.
func (e ConversationEntry) FromAgent() bool {
	return e.Sender.Role == RoleAgent || e.Sender.Role == RoleChatbot
}
