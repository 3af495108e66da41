package handoff

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/platform/front"
)

// Event types for Front deliveries. Autoreplies carry no agent identity.
const (
	FrontAgentEventType     = "front-agent"
	FrontAutoreplyEventType = "front-autoreply"
)

type frontStrategy struct {
	baseStrategy
}

func (s *frontStrategy) FormatMessages(messages []domain.Message, conversationID string) []domain.HandoffChatMessage {
	return formatAuthored(messages, conversationID)
}

func (s *frontStrategy) HandleChatEvent(raw json.RawMessage) (domain.Normalized, error) {
	var ev front.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Normalized{}, fmt.Errorf("front event: %w", err)
	}

	autoreply := ev.Type == front.WebhookMessageAutoreply
	eventType := FrontAgentEventType
	var agentName string
	if autoreply {
		eventType = FrontAutoreplyEventType
	} else {
		agentName = ev.Author.FullName()
	}

	text := ev.Text
	if text == "" {
		text = ev.Body
	}
	formatted := domain.HandoffEvent{
		Type:       eventType,
		Timestamp:  int64(ev.CreatedAt * 1000),
		Text:       text,
		AuthorName: agentName,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	return domain.Normalized{AgentName: agentName, Event: &formatted}, nil
}
