package handoff

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/platform/messaging"
)

type messagingStrategy struct {
	baseStrategy
}

func (s *messagingStrategy) FormatMessages(messages []domain.Message, conversationID string) []domain.HandoffChatMessage {
	return formatAuthored(messages, conversationID)
}

func (s *messagingStrategy) HandleChatEvent(raw json.RawMessage) (domain.Normalized, error) {
	var env messaging.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Normalized{}, fmt.Errorf("messaging event: %w", err)
	}

	switch env.Event {
	case messaging.EventCloseConversation:
		return domain.Normalized{ShouldEnd: true}, nil
	case messaging.EventMessage, messaging.EventTypingStarted, messaging.EventTypingStopped, messaging.EventParticipantChange:
	default:
		return domain.Normalized{}, nil
	}

	var data messaging.ConversationEvent
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return domain.Normalized{}, fmt.Errorf("messaging %s data: %w", env.Event, err)
		}
	}
	entry := data.ConversationEntry
	if entry.Sender.Role == messaging.RoleEndUser {
		return domain.Normalized{}, nil
	}

	text := entry.Text()
	if env.Event == messaging.EventMessage && s.cfg.TerminatingMessageText != "" &&
		strings.Contains(text, s.cfg.TerminatingMessageText) {
		return domain.Normalized{ShouldEnd: true}, nil
	}

	var agentName string
	if entry.FromAgent() {
		agentName = entry.SenderDisplayName
	}
	ts := s.now()
	if entry.ClientTimestamp > 0 {
		ts = time.UnixMilli(entry.ClientTimestamp)
	}
	formatted := domain.HandoffEvent{
		Type:       env.Event,
		Timestamp:  ts.UnixMilli(),
		Text:       text,
		AuthorName: agentName,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	return domain.Normalized{AgentName: agentName, Event: &formatted}, nil
}

func (s *messagingStrategy) ShowAgentTypingIndicator(events []domain.HandoffEvent) bool {
	return s.typingWithin(events, messaging.EventTypingStarted)
}

// ShouldSuppressInputDisplay hides the input until an agent has joined.
func (s *messagingStrategy) ShouldSuppressInputDisplay(agentName string) bool {
	return agentName == ""
}
