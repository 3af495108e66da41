package handoff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
)

type salesforceStrategy struct {
	baseStrategy
}

func (s *salesforceStrategy) SubjectHeaderKey() string { return HeaderSubject }

func (s *salesforceStrategy) ConnectedToAgentMessageType() string {
	return salesforce.ConnectedMessageType
}

// FormatMessages forwards eligible history untouched; LiveAgent receives it
// rendered at chat request time.
func (s *salesforceStrategy) FormatMessages(messages []domain.Message, _ string) []domain.HandoffChatMessage {
	out := make([]domain.HandoffChatMessage, 0, len(messages))
	for _, m := range messages {
		if !m.TranscriptEligible() {
			continue
		}
		msg := m
		out = append(out, domain.HandoffChatMessage{Message: &msg})
	}
	return out
}

func (s *salesforceStrategy) HandleChatEvent(raw json.RawMessage) (domain.Normalized, error) {
	var ev salesforce.Message
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Normalized{}, fmt.Errorf("salesforce event: %w", err)
	}
	body := ev.Body()

	terminating := salesforce.IsTermination(ev.Type) ||
		(s.cfg.TerminatingMessageText != "" && strings.Contains(body.Text, s.cfg.TerminatingMessageText))

	var agentName string
	if ev.Type == "ChatMessage" || ev.Type == "ChatTransferred" {
		agentName = body.Name
	}

	if terminating {
		if body.Reason != salesforce.ReasonUnavailable {
			return domain.Normalized{ShouldEnd: true}, nil
		}
		formatted := s.format(ev, body, raw)
		if s.cfg.UnavailableMessage != "" {
			formatted.Text = s.cfg.UnavailableMessage
		}
		return domain.Normalized{AgentName: agentName, Event: &formatted, ShouldEnd: true}, nil
	}

	formatted := s.format(ev, body, raw)
	return domain.Normalized{AgentName: agentName, Event: &formatted}, nil
}

func (s *salesforceStrategy) format(ev salesforce.Message, body salesforce.MessageBody, raw json.RawMessage) domain.HandoffEvent {
	return domain.HandoffEvent{
		Type:       ev.Type,
		Timestamp:  s.now().UnixMilli(),
		Text:       body.Text,
		AuthorName: body.Name,
		Raw:        append(json.RawMessage(nil), raw...),
	}
}

func (s *salesforceStrategy) ShowAgentTypingIndicator(events []domain.HandoffEvent) bool {
	return s.typingWithin(events, "AgentTyping")
}

// ShouldSuppressInputDisplay hides the input until an agent has joined.
func (s *salesforceStrategy) ShouldSuppressInputDisplay(agentName string) bool {
	return agentName == ""
}
