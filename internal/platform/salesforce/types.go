package salesforce

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Message types relayed to clients. Everything else LiveAgent emits
// (ChasitorSessionData, custom events) stays server side.
var AllowedMessageTypes = []string{
	"ChatMessage",
	"AgentTyping",
	"AgentNotTyping",
	"ChatEstablished",
	"ChatEnded",
	"ChatRequestFail",
	"ChatRequestSuccess",
	"ChatTransferred",
	"QueueUpdate",
	"AgentDisconnect",
}

// TerminationTypes end the handoff when received.
var TerminationTypes = []string{"ChatEnded", "ChatRequestFail"}

// ConnectedMessageType is synthesized by the widget once a stream connects.
const ConnectedMessageType = "ChatRequestSuccess"

// ReasonUnavailable is the ChatRequestFail reason sent when no agent can
// take the chat.
const ReasonUnavailable = "Unavailable"

// Session is the LiveAgent session returned by System/SessionId.
type Session struct {
	Key               string `json:"key"`
	ID                string `json:"id"`
	AffinityToken     string `json:"affinityToken"`
	ClientPollTimeout int    `json:"clientPollTimeout,omitempty"`
}

// Message is one entry of a System/Messages batch.
type Message struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// MessageBody is the common shape of Message.Message across the relayed types.
type MessageBody struct {
	Text   string `json:"text,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Body decodes the message payload. Types without a payload yield a zero body.
func (m Message) Body() MessageBody {
	var body MessageBody
	if len(m.Message) > 0 {
		_ = json.Unmarshal(m.Message, &body)
	}
	return body
}

// MessagesResponse is the System/Messages long-poll result.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	Sequence int64     `json:"sequence"`
	Offset   int64     `json:"offset"`
}

// ChatMessagesError is returned when System/Messages answers with anything
// other than 200 or 204.
type ChatMessagesError struct {
	Status int
}

func (e *ChatMessagesError) Error() string {
	return fmt.Sprintf("salesforce: messages request failed with status %d", e.Status)
}

// PrechatDetail is a visitor-supplied field shown to the agent.
type PrechatDetail struct {
	Label            string   `json:"label"`
	Value            string   `json:"value"`
	EntityMaps       []any    `json:"entityMaps"`
	TranscriptFields []string `json:"transcriptFields"`
	DisplayToAgent   bool     `json:"displayToAgent"`
}

// ChasitorInit is the chat request body.
type ChasitorInit struct {
	OrganizationID      string          `json:"organizationId"`
	DeploymentID        string          `json:"deploymentId"`
	ButtonID            string          `json:"buttonId"`
	SessionID           string          `json:"sessionId"`
	UserAgent           string          `json:"userAgent"`
	Language            string          `json:"language"`
	ScreenResolution    string          `json:"screenResolution"`
	VisitorName         string          `json:"visitorName"`
	PrechatDetails      []PrechatDetail `json:"prechatDetails"`
	PrechatEntities     []any           `json:"prechatEntities"`
	ReceiveQueueUpdates bool            `json:"receiveQueueUpdates"`
	IsPost              bool            `json:"isPost"`
}

// FilterMessages keeps the relayed message types, preserving order.
func FilterMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if slices.Contains(AllowedMessageTypes, m.Type) {
			out = append(out, m)
		}
	}
	return out
}

// IsTermination reports whether the type ends the chat.
func IsTermination(messageType string) bool {
	return slices.Contains(TerminationTypes, messageType)
}
