package domain

import "strings"

// MessageType discriminates the conversation history union.
type MessageType string

const (
	MessageUser  MessageType = "USER"
	MessageBot   MessageType = "bot"
	MessageError MessageType = "ERROR"
)

// Attachment represents a file or media attachment on a user message.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Response is one fragment of a bot answer. Only "text" fragments carry
// transcript text; other fragment types (sources, buttons) are ignored.
type Response struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is an entry of the AI conversation history. Type selects which
// fields are meaningful: USER and ERROR use Text, bot uses Responses.
type Message struct {
	Type        MessageType  `json:"type"`
	Text        string       `json:"text,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Responses             []Response     `json:"responses,omitempty"`
	ConversationMessageID string         `json:"conversationMessageId,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	BotMessageType        string         `json:"botMessageType,omitempty"`
}

// PlainText returns the transcript text of the message. Bot answers are the
// concatenation of their text fragments.
func (m Message) PlainText() string {
	if m.Type != MessageBot {
		return m.Text
	}
	var sb strings.Builder
	for _, r := range m.Responses {
		if r.Type == "text" {
			sb.WriteString(r.Text)
		}
	}
	return sb.String()
}

// TranscriptEligible reports whether the message is carried into a handoff
// transcript. Error messages stay local to the widget.
func (m Message) TranscriptEligible() bool {
	return m.Type == MessageUser || m.Type == MessageBot
}

// AuthorType is the speaker side on vendor wire shapes.
type AuthorType string

const (
	AuthorUser     AuthorType = "user"
	AuthorBusiness AuthorType = "business"
)

// Author identifies who wrote a transcript entry.
type Author struct {
	Type        AuthorType `json:"type"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Content is the body of a transcript entry.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HandoffChatMessage is one transcript entry sent with a conversation-init
// request. Vendors that ingest the native history shape carry it untouched in
// Message; the others use Author and Content.
type HandoffChatMessage struct {
	Author   *Author           `json:"author,omitempty"`
	Content  *Content          `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Message  *Message          `json:"message,omitempty"`
}

// Text returns the entry's text regardless of shape.
func (m HandoffChatMessage) Text() string {
	if m.Content != nil {
		return m.Content.Text
	}
	if m.Message != nil {
		return m.Message.PlainText()
	}
	return ""
}

// FromUser reports whether the entry was written by the end user.
func (m HandoffChatMessage) FromUser() bool {
	if m.Author != nil {
		return m.Author.Type == AuthorUser
	}
	return m.Message != nil && m.Message.Type == MessageUser
}
