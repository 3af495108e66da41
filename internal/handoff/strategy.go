// Package handoff adapts each live-agent platform to one event model. A
// Strategy is the client-safe half (formatting, event interpretation,
// display rules); a ServerStrategy holds secrets and checks availability.
package handoff

import (
	"encoding/json"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
)

// Request and response headers of the client/server contract.
const (
	HeaderAuthToken      = "X-Handoff-Auth-Token"
	HeaderOrganizationID = "X-Organization-Id"
	HeaderAgentID        = "X-Agent-Id"
	HeaderSubject        = "X-Handoff-Subject"
)

// typingWindow is how recent an agent-typing event must be to show the
// indicator.
const typingWindow = 3 * time.Second

// Strategy is the per-platform behavior the widget needs. Implementations
// are immutable once built.
type Strategy interface {
	Type() domain.HandoffType
	// ConversationsEndpoint is the path that initializes a conversation.
	ConversationsEndpoint() string
	// MessagesEndpoint is the path for the event stream (GET) and sends (POST).
	MessagesEndpoint() string
	// SubjectHeaderKey names the header carrying the chat subject, or "".
	SubjectHeaderKey() string
	// ConnectedToAgentMessageType is the event synthesized when the stream
	// connects, or "" for the default.
	ConnectedToAgentMessageType() string
	// FormatMessages converts conversation history to the platform's
	// transcript shape. It performs no I/O.
	FormatMessages(messages []domain.Message, conversationID string) []domain.HandoffChatMessage
	// HandleChatEvent interprets one event received on the stream.
	HandleChatEvent(raw json.RawMessage) (domain.Normalized, error)
	ShowAgentTypingIndicator(events []domain.HandoffEvent) bool
	ShouldSuppressInputDisplay(agentName string) bool
}

// ConversationsEndpoint returns the conversation-init path for a platform.
func ConversationsEndpoint(t domain.HandoffType) string {
	return "/api/handoff/" + string(t) + "/conversations"
}

// MessagesEndpoint returns the stream and send path for a platform.
func MessagesEndpoint(t domain.HandoffType) string {
	return "/api/handoff/" + string(t) + "/messages"
}

// PassControlEndpoint returns the session teardown path for a platform.
func PassControlEndpoint(t domain.HandoffType) string {
	return ConversationsEndpoint(t) + "/passControl"
}

type options struct {
	now func() time.Time
}

// Option customizes strategy construction.
type Option func(*options)

// WithClock replaces time.Now for timestamps and typing recency.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewStrategy returns the strategy for cfg.Type, or nil when handoff is
// disabled or the type is unknown. Callers treat nil as "no handoff".
func NewStrategy(cfg config.ClientSafeHandoffConfig, opts ...Option) Strategy {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	base := baseStrategy{cfg: cfg, now: o.now}

	switch cfg.Type {
	case domain.HandoffZendesk:
		return &zendeskStrategy{base}
	case domain.HandoffFront:
		return &frontStrategy{base}
	case domain.HandoffSalesforce:
		return &salesforceStrategy{base}
	case domain.HandoffSalesforceMessaging:
		return &messagingStrategy{base}
	default:
		return nil
	}
}

// baseStrategy carries what every platform shares.
type baseStrategy struct {
	cfg config.ClientSafeHandoffConfig
	now func() time.Time
}

func (b baseStrategy) Type() domain.HandoffType { return b.cfg.Type }

func (b baseStrategy) ConversationsEndpoint() string { return ConversationsEndpoint(b.cfg.Type) }

func (b baseStrategy) MessagesEndpoint() string { return MessagesEndpoint(b.cfg.Type) }

func (b baseStrategy) SubjectHeaderKey() string { return "" }

func (b baseStrategy) ConnectedToAgentMessageType() string { return "" }

func (b baseStrategy) ShowAgentTypingIndicator([]domain.HandoffEvent) bool { return false }

func (b baseStrategy) ShouldSuppressInputDisplay(string) bool { return false }

// typingWithin reports whether the last event is of typingType and recent.
func (b baseStrategy) typingWithin(events []domain.HandoffEvent, typingType string) bool {
	if len(events) == 0 {
		return false
	}
	last := events[len(events)-1]
	if last.Type != typingType {
		return false
	}
	return b.now().Sub(last.Time()) < typingWindow
}

// formatAuthored maps history to author/content entries, the shape Zendesk
// and Front ingest. Entries with no text are kept like the Salesforce
// passthrough keeps them; senders decide what to replay.
func formatAuthored(messages []domain.Message, conversationID string) []domain.HandoffChatMessage {
	out := make([]domain.HandoffChatMessage, 0, len(messages))
	for _, m := range messages {
		if !m.TranscriptEligible() {
			continue
		}
		text := m.PlainText()
		author := domain.AuthorBusiness
		if m.Type == domain.MessageUser {
			author = domain.AuthorUser
		}
		entry := domain.HandoffChatMessage{
			Author:  &domain.Author{Type: author},
			Content: &domain.Content{Type: "text", Text: text},
		}
		if conversationID != "" {
			entry.Metadata = map[string]string{"conversationId": conversationID}
		}
		out = append(out, entry)
	}
	return out
}
