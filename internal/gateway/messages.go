package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/platform/front"
	"github.com/soyeahso/handoff/internal/platform/messaging"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
	"github.com/soyeahso/handoff/internal/pubsub"
	"github.com/soyeahso/handoff/internal/relay"
	"github.com/soyeahso/handoff/internal/sse"
)

// SendRequest is the body of a message send.
type SendRequest struct {
	Message          string            `json:"message"`
	SignedUserData   string            `json:"signedUserData,omitempty"`
	UnsignedUserData map[string]string `json:"unsignedUserData,omitempty"`
}

// handleStream opens the SSE relay for the session named by the token.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	vendor, ok := routeVendor(w, r)
	if !ok {
		return
	}
	auth, ok := s.authenticate(w, r, vendor)
	if !ok {
		return
	}

	log := s.log.Sub("relay").With("vendor", string(vendor)).With("session", auth.session.ID)
	rl, err := s.relayFor(r, vendor, auth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxStream := s.cfg.Server.MaxStream()
	if maxStream <= 0 {
		maxStream = 900 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), maxStream)
	defer cancel()

	// The relay commits the 200 itself once its subscription or upstream
	// stream is in place, so nothing published in between is lost.
	sw := sse.NewWriter(w)
	sw.ExtendDeadline(maxStream + 10*time.Second)
	log.Debug().Msg("relay stream starting")
	if err := rl.Run(ctx, sw); err != nil {
		if !sw.Opened() {
			writeError(w, http.StatusBadGateway, "live agent stream unavailable")
		}
		log.Debug().Err(err).Msg("relay stream ended with error")
		return
	}
	log.Debug().Msg("relay stream closed")
}

// relayFor picks the relay for the vendor's transport.
func (s *Server) relayFor(r *http.Request, vendor domain.HandoffType, auth *authorized) (relay.Relay, error) {
	h := auth.agent.Handoff
	ses := auth.claims.Session
	log := s.log.Sub("relay").With("vendor", string(vendor)).With("session", auth.session.ID)

	switch vendor {
	case domain.HandoffSalesforce:
		if h.Salesforce == nil {
			return nil, errVendorConfig
		}
		return &relay.SalesforcePoll{
			Client:        salesforce.NewClient(*h.Salesforce, s.httpClient, s.log.Sub("salesforce")),
			Acks:          s.sessions,
			SessionID:     auth.session.ID,
			Auth:          salesforce.Auth{Key: ses.SessionKey, AffinityToken: ses.AffinityToken},
			Ack:           auth.session.Ack,
			SubjectPrompt: h.Salesforce.SubjectPromptText,
			Subject:       r.Header.Get(handoff.HeaderSubject),
			Log:           log,
		}, nil

	case domain.HandoffSalesforceMessaging:
		if h.SalesforceMessaging == nil {
			return nil, errVendorConfig
		}
		client := messaging.NewClient(*h.SalesforceMessaging, s.streamClient(), s.log.Sub("messaging"))
		return &relay.MessagingPassthrough{
			Open: func(ctx context.Context, lastEventID string) (relay.EventStream, error) {
				st, err := client.OpenStream(ctx, ses.AccessToken, lastEventID)
				if err != nil {
					return nil, err
				}
				return st, nil
			},
			LastEventID: r.Header.Get("Last-Event-ID"),
			KeepAlive:   s.cfg.Server.KeepAlive(),
			Log:         log,
		}, nil

	default:
		return &relay.PubSub{
			Broker:    s.broker,
			Pattern:   pubsub.Channel(auth.session.Channel(), "*"),
			Vendor:    string(vendor),
			KeepAlive: s.cfg.Server.KeepAlive(),
			Log:       log,
		}, nil
	}
}

// streamClient is the vendor client for long-lived upstream streams, which
// must not carry an overall timeout.
func (s *Server) streamClient() *http.Client {
	if s.httpClient == nil {
		return &http.Client{}
	}
	c := *s.httpClient
	c.Timeout = 0
	return &c
}

// handleSendMessage forwards one end-user message to the vendor.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	vendor, ok := routeVendor(w, r)
	if !ok {
		return
	}
	auth, ok := s.authenticate(w, r, vendor)
	if !ok {
		return
	}

	var body SendRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(body.Message)
	if text == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	user, err := verifyUserData(auth.agent, body.SignedUserData, body.UnsignedUserData)
	if err != nil {
		s.authLimiter.recordFailure(clientHost(r))
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err := s.send(r.Context(), vendor, auth, user.Name, text); err != nil {
		if errors.Is(err, errVendorConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Warn().Err(err).Str("vendor", string(vendor)).Str("session", auth.session.ID).Msg("sending message failed")
		writeError(w, http.StatusBadGateway, "vendor request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) send(ctx context.Context, vendor domain.HandoffType, auth *authorized, userName, text string) error {
	h := auth.agent.Handoff
	ses := auth.claims.Session
	convID := auth.claims.ConversationID

	switch vendor {
	case domain.HandoffSalesforce:
		if h.Salesforce == nil {
			return errVendorConfig
		}
		client := salesforce.NewClient(*h.Salesforce, s.httpClient, s.log.Sub("salesforce"))
		return client.SendMessage(ctx, salesforce.Auth{Key: ses.SessionKey, AffinityToken: ses.AffinityToken}, text)

	case domain.HandoffSalesforceMessaging:
		if h.SalesforceMessaging == nil {
			return errVendorConfig
		}
		client := messaging.NewClient(*h.SalesforceMessaging, s.httpClient, s.log.Sub("messaging"))
		return client.SendMessage(ctx, ses.AccessToken, convID, text)

	case domain.HandoffZendesk:
		if h.Zendesk == nil {
			return errVendorConfig
		}
		client := zendesk.NewClient(*h.Zendesk, s.httpClient, s.log.Sub("zendesk"))
		msg := domain.HandoffChatMessage{
			Author:  &domain.Author{Type: domain.AuthorUser},
			Content: &domain.Content{Type: "text", Text: text},
		}
		return client.PostMessage(ctx, convID, ses.UserID, msg)

	case domain.HandoffFront:
		if h.Front == nil {
			return errVendorConfig
		}
		client := front.NewClient(*h.Front, s.httpClient, s.log.Sub("front"))
		name := ses.Name
		if name == "" {
			name = userName
		}
		meta := front.MessageMetadata{ExternalID: uuid.NewString(), ExternalConversationID: convID}
		return client.SendInbound(ctx, front.Recipient{Handle: ses.Handle, Name: name}, text, meta)
	}
	return errVendorConfig
}
