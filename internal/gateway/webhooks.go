package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/platform/front"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
	"github.com/soyeahso/handoff/internal/pubsub"
)

// Webhook authentication headers.
const (
	headerZendeskAPIKey  = "X-API-Key"
	headerFrontSignature = "X-Front-Signature"
	headerFrontTimestamp = "X-Front-Request-Timestamp"
)

// webhookAgent resolves the agent in the path and checks it hands off to
// vendor.
func (s *Server) webhookAgent(w http.ResponseWriter, r *http.Request, vendor domain.HandoffType) (*config.AgentConfig, bool) {
	agent, ok := s.agent(chi.URLParam(r, "agentID"))
	if !ok || agent.Handoff.Type != vendor {
		metrics.WebhooksTotal.WithLabelValues(string(vendor), "unknown_agent").Inc()
		writeError(w, http.StatusNotFound, "unknown agent")
		return nil, false
	}
	return agent, true
}

// rejectWebhook records a failed webhook authentication.
func (s *Server) rejectWebhook(w http.ResponseWriter, r *http.Request, vendor domain.HandoffType) {
	host := clientHost(r)
	s.authLimiter.recordFailure(host)
	metrics.WebhooksTotal.WithLabelValues(string(vendor), "unauthorized").Inc()
	s.log.Warn().Str("vendor", string(vendor)).Str("remote", host).Msg("webhook authentication failed")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

// publish sends one webhook message to the session's channel unless the
// same vendor message was already delivered. It reports whether the message
// went out.
func (s *Server) publish(ctx context.Context, vendor domain.HandoffType, messageID, channel string, event any) (bool, error) {
	if messageID != "" {
		fresh, err := s.sessions.MarkDelivered(ctx, vendor, messageID)
		if err != nil {
			return false, err
		}
		if !fresh {
			s.log.Debug().Str("vendor", string(vendor)).Str("message", messageID).Msg("skipping redelivered webhook message")
			return false, nil
		}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return false, err
	}
	if err := s.broker.Publish(ctx, channel, payload); err != nil {
		return false, err
	}
	return true, nil
}

// handleZendeskWebhook fans Sunshine Conversations message events out to
// the relays subscribed to each conversation.
func (s *Server) handleZendeskWebhook(w http.ResponseWriter, r *http.Request) {
	const vendor = domain.HandoffZendesk
	agent, ok := s.webhookAgent(w, r, vendor)
	if !ok {
		return
	}
	if !s.authLimiter.allow(clientHost(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	cfg := agent.Handoff.Zendesk
	if cfg == nil || cfg.WebhookSecret == "" || !safeEqual(r.Header.Get(headerZendeskAPIKey), cfg.WebhookSecret) {
		s.rejectWebhook(w, r, vendor)
		return
	}

	var payload zendesk.WebhookPayload
	if err := decodeJSON(r, &payload); err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(vendor), "invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	published := 0
	for _, cm := range payload.MessageEvents() {
		msgID := cm.Event.Payload.Message.ID
		channel := pubsub.Channel(string(vendor), agent.OrganizationID, agent.ID, cm.ConversationID, msgID)
		sent, err := s.publish(r.Context(), vendor, msgID, channel, cm.Event)
		if err != nil {
			s.log.Error().Err(err).Str("conversation", cm.ConversationID).Msg("publishing zendesk event failed")
			metrics.WebhooksTotal.WithLabelValues(string(vendor), "error").Inc()
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if sent {
			published++
		}
	}
	metrics.WebhooksTotal.WithLabelValues(string(vendor), "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]int{"published": published})
}

// handleFrontWebhook verifies a Front application channel delivery and
// fans message deliveries out to the subscribed relays.
func (s *Server) handleFrontWebhook(w http.ResponseWriter, r *http.Request) {
	const vendor = domain.HandoffFront
	agent, ok := s.webhookAgent(w, r, vendor)
	if !ok {
		return
	}
	if !s.authLimiter.allow(clientHost(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		metrics.WebhooksTotal.WithLabelValues(string(vendor), "invalid").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	cfg := agent.Handoff.Front
	if cfg == nil || !front.VerifySignature(cfg.AppSecret, r.Header.Get(headerFrontTimestamp), body, r.Header.Get(headerFrontSignature)) {
		s.rejectWebhook(w, r, vendor)
		return
	}

	var payload front.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(vendor), "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp := front.WebhookResponse{Type: "success"}
	switch payload.Type {
	case front.WebhookMessage, front.WebhookMessageAutoreply:
		var msg front.MessagePayload
		if err := json.Unmarshal(payload.Payload, &msg); err != nil {
			metrics.WebhooksTotal.WithLabelValues(string(vendor), "invalid").Inc()
			writeError(w, http.StatusBadRequest, "invalid message payload")
			return
		}
		event := front.NewEvent(payload.Type, msg)
		convIDs := payload.ConversationIDs()
		for i, convID := range convIDs {
			channel := pubsub.Channel(string(vendor), agent.OrganizationID, agent.ID, convID, msg.ID)
			// Dedupe per conversation so a multi-target delivery reaches each.
			dedupeID := msg.ID
			if dedupeID != "" && i > 0 {
				dedupeID = msg.ID + ":" + convID
			}
			if _, err := s.publish(r.Context(), vendor, dedupeID, channel, event); err != nil {
				s.log.Error().Err(err).Str("conversation", convID).Msg("publishing front event failed")
				metrics.WebhooksTotal.WithLabelValues(string(vendor), "error").Inc()
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		resp.ExternalID = msg.ID
		if len(convIDs) > 0 {
			resp.ExternalConversationID = convIDs[0]
		}
	case front.WebhookAuthorization, front.WebhookDelete:
	default:
		s.log.Debug().Str("type", payload.Type).Msg("ignoring front webhook")
	}

	metrics.WebhooksTotal.WithLabelValues(string(vendor), "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}
