package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
	"github.com/soyeahso/handoff/internal/sse"
)

// SalesforceClient is the part of the LiveAgent client the poll relay uses.
type SalesforceClient interface {
	Messages(ctx context.Context, auth salesforce.Auth, ack int64) (*salesforce.MessagesResponse, error)
	SendMessage(ctx context.Context, auth salesforce.Auth, text string) error
}

// AckStore persists the poll cursor so a reconnecting stream resumes where
// the last one stopped.
type AckStore interface {
	AdvanceAck(ctx context.Context, sessionID string, seq int64) (int64, error)
}

// SalesforcePoll long-polls LiveAgent and relays allow-listed messages.
type SalesforcePoll struct {
	Client    SalesforceClient
	Acks      AckStore
	SessionID string
	Auth      salesforce.Auth
	// Ack is the cursor to resume from.
	Ack int64
	// SubjectPrompt, when found in an agent message, is answered with
	// Subject instead of being relayed.
	SubjectPrompt string
	Subject       string
	Log           *logging.Logger
}

// Run polls until ctx ends, the chat terminates, or the vendor fails. There
// is no delay between polls; the vendor's long-poll paces the loop.
func (p *SalesforcePoll) Run(ctx context.Context, w *sse.Writer) error {
	log := p.Log
	if log == nil {
		log = logging.Nop()
	}
	// The session was created at init; the first poll may block for the
	// whole long-poll window, so the client sees the stream before it.
	if err := w.Open(); err != nil {
		log.Debug().Err(err).Msg("client went away before stream opened")
		return nil
	}
	metrics.ActiveStreams.WithLabelValues("salesforce").Inc()
	defer metrics.ActiveStreams.WithLabelValues("salesforce").Dec()

	ack := p.Ack
	for {
		if ctx.Err() != nil {
			return nil
		}

		resp, err := p.Client.Messages(ctx, p.Auth, ack)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var statusErr *salesforce.ChatMessagesError
			if errors.As(err, &statusErr) {
				log.Warn().Int("status", statusErr.Status).Str("session", p.SessionID).Msg("salesforce poll rejected, closing stream")
			} else {
				log.Error().Err(err).Str("session", p.SessionID).Msg("salesforce poll failed, closing stream")
			}
			return err
		}

		ack = p.advance(ctx, ack, resp.Sequence, log)

		for _, msg := range salesforce.FilterMessages(resp.Messages) {
			if p.isSubjectPrompt(msg) {
				if err := p.Client.SendMessage(ctx, p.Auth, p.Subject); err != nil {
					log.Warn().Err(err).Str("session", p.SessionID).Msg("subject auto-reply failed")
				}
				continue
			}

			frame, err := json.Marshal(msg)
			if err != nil {
				log.Warn().Err(err).Str("type", msg.Type).Msg("dropping unencodable message")
				continue
			}
			if err := w.Raw(frame); err != nil {
				log.Debug().Err(err).Str("session", p.SessionID).Msg("client went away")
				return nil
			}
			metrics.RelayedEventsTotal.WithLabelValues("salesforce").Inc()

			if salesforce.IsTermination(msg.Type) {
				log.Info().Str("session", p.SessionID).Str("type", msg.Type).Msg("chat terminated, closing stream")
				return nil
			}
		}
	}
}

// advance moves the cursor to max(ack, seq), persisting it when a store is
// configured. A store failure keeps the in-memory cursor.
func (p *SalesforcePoll) advance(ctx context.Context, ack, seq int64, log *logging.Logger) int64 {
	if seq > ack {
		ack = seq
	}
	if p.Acks == nil || p.SessionID == "" {
		return ack
	}
	stored, err := p.Acks.AdvanceAck(ctx, p.SessionID, ack)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("session", p.SessionID).Int64("ack", ack).Msg("persisting ack failed")
		}
		return ack
	}
	if stored > ack {
		return stored
	}
	return ack
}

func (p *SalesforcePoll) isSubjectPrompt(msg salesforce.Message) bool {
	if p.SubjectPrompt == "" || p.Subject == "" || msg.Type != "ChatMessage" {
		return false
	}
	return strings.Contains(strings.ToLower(msg.Body().Text), strings.ToLower(p.SubjectPrompt))
}
