package handoff

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
)

// ZendeskEventType labels agent messages relayed from Sunshine Conversations.
const ZendeskEventType = "handoff-zendesk"

type zendeskStrategy struct {
	baseStrategy
}

func (s *zendeskStrategy) FormatMessages(messages []domain.Message, conversationID string) []domain.HandoffChatMessage {
	return formatAuthored(messages, conversationID)
}

// HandleChatEvent drops echoes of the user's own messages. Zendesk has no
// termination signal on the stream; the session ends from the widget.
func (s *zendeskStrategy) HandleChatEvent(raw json.RawMessage) (domain.Normalized, error) {
	var ev zendesk.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Normalized{}, fmt.Errorf("zendesk event: %w", err)
	}
	msg := ev.Payload.Message
	if msg.Author.Type == "user" {
		return domain.Normalized{}, nil
	}

	ts := s.now()
	if parsed, err := time.Parse(time.RFC3339Nano, ev.CreatedAt); err == nil {
		ts = parsed
	}
	formatted := domain.HandoffEvent{
		Type:       ZendeskEventType,
		Timestamp:  ts.UnixMilli(),
		Text:       msg.Content.Text,
		AuthorName: msg.Author.DisplayName,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	return domain.Normalized{AgentName: msg.Author.DisplayName, Event: &formatted}, nil
}
