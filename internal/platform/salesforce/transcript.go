package salesforce

import (
	"strings"

	"github.com/soyeahso/handoff/internal/domain"
)

// RenderTranscript flattens the AI conversation into the text shown to the
// agent when the chat request arrives.
func RenderTranscript(messages []domain.HandoffChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if m.FromUser() {
			sb.WriteString("Visitor: ")
		} else {
			sb.WriteString("Bot: ")
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// Detail builds a prechat detail visible to the agent.
func Detail(label, value string) PrechatDetail {
	return PrechatDetail{
		Label:            label,
		Value:            value,
		EntityMaps:       []any{},
		TranscriptFields: []string{},
		DisplayToAgent:   true,
	}
}
