package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/platform/front"
	"github.com/soyeahso/handoff/internal/platform/messaging"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
	"github.com/soyeahso/handoff/internal/token"
)

const (
	teardownTimeout = 15 * time.Second
	botDisplayName  = "AI Assistant"
)

// ConversationRequest is the body of a conversation-init request.
type ConversationRequest struct {
	Messages         []domain.Message  `json:"messages"`
	SignedUserData   string            `json:"signedUserData,omitempty"`
	UnsignedUserData map[string]string `json:"unsignedUserData,omitempty"`
	UserAgent        string            `json:"userAgent,omitempty"`
	ScreenResolution string            `json:"screenResolution,omitempty"`
	Language         string            `json:"language,omitempty"`
	CustomData       map[string]string `json:"customData,omitempty"`
	Email            string            `json:"email,omitempty"`
}

// ConversationResponse acknowledges an initialized conversation. The bearer
// token travels in the X-Handoff-Auth-Token header, not the body.
type ConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

// PassControlRequest is the body of a session teardown request.
type PassControlRequest struct {
	SignedUserData   string            `json:"signedUserData,omitempty"`
	UnsignedUserData map[string]string `json:"unsignedUserData,omitempty"`
}

// errVendorConfig marks an agent whose vendor block is missing.
var errVendorConfig = errors.New("handoff vendor is not configured")

// initRequest carries what every vendor init needs.
type initRequest struct {
	agent     *config.AgentConfig
	sessionID string
	body      ConversationRequest
	user      token.UserData
	// transcript is the history in the vendor's ingest shape.
	transcript []domain.HandoffChatMessage
}

// initResult is what a vendor init hands back for the token and registry.
type initResult struct {
	conversationID string
	session        token.VendorSession
}

func (s *Server) handleInitConversation(w http.ResponseWriter, r *http.Request) {
	vendor, ok := routeVendor(w, r)
	if !ok {
		return
	}
	agent, ok := s.routeAgent(w, r, vendor)
	if !ok {
		return
	}

	var body ConversationRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Email != "" {
		if body.UnsignedUserData == nil {
			body.UnsignedUserData = map[string]string{}
		}
		if body.UnsignedUserData["email"] == "" {
			body.UnsignedUserData["email"] = body.Email
		}
	}
	user, err := verifyUserData(agent, body.SignedUserData, body.UnsignedUserData)
	if err != nil {
		s.authLimiter.recordFailure(clientHost(r))
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	strategy := handoff.NewStrategy(agent.Handoff.ClientSafe(), handoff.WithClock(s.now))
	req := initRequest{
		agent:     agent,
		sessionID: uuid.NewString(),
		body:      body,
		user:      user,
	}
	// Front and Zendesk key transcript entries to the conversation they are
	// replayed into; the id is assigned by their init.
	req.transcript = strategy.FormatMessages(body.Messages, "")

	log := s.log.With("vendor", string(vendor)).With("session", req.sessionID)

	var res initResult
	switch vendor {
	case domain.HandoffSalesforce:
		res, err = s.initSalesforce(r.Context(), req, r.Header.Get(handoff.HeaderSubject))
	case domain.HandoffSalesforceMessaging:
		res, err = s.initMessaging(r.Context(), req)
	case domain.HandoffZendesk:
		res, err = s.initZendesk(r.Context(), req)
	case domain.HandoffFront:
		res, err = s.initFront(r.Context(), req)
	}
	if err != nil {
		metrics.SessionsStartedTotal.WithLabelValues(string(vendor), "error").Inc()
		if errors.Is(err, errVendorConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("conversation init failed")
		writeError(w, http.StatusBadGateway, "vendor request failed")
		return
	}

	sess := &domain.HandoffSession{
		ID:             req.sessionID,
		AgentID:        agent.ID,
		OrganizationID: agent.OrganizationID,
		Vendor:         vendor,
		ConversationID: res.conversationID,
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("registering handoff session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	claims := token.Claims{
		AgentID:        agent.ID,
		OrganizationID: agent.OrganizationID,
		Vendor:         vendor,
		ConversationID: res.conversationID,
		Session:        res.session,
	}
	claims.ID = req.sessionID
	signed, err := s.issuer.Issue(claims)
	if err != nil {
		log.Error().Err(err).Msg("issuing handoff token failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.SessionsStartedTotal.WithLabelValues(string(vendor), "ok").Inc()
	log.Info().Str("conversation", res.conversationID).Int("transcript", len(req.transcript)).Msg("handoff conversation initialized")

	w.Header().Set(handoff.HeaderAuthToken, signed)
	writeJSON(w, http.StatusOK, ConversationResponse{ConversationID: res.conversationID})
}

func (s *Server) initSalesforce(ctx context.Context, req initRequest, subject string) (initResult, error) {
	cfg := req.agent.Handoff.Salesforce
	if cfg == nil {
		return initResult{}, errVendorConfig
	}
	client := salesforce.NewClient(*cfg, s.httpClient, s.log.Sub("salesforce"))

	sess, err := client.CreateSession(ctx)
	if err != nil {
		return initResult{}, err
	}
	auth := salesforce.Auth{Key: sess.Key, AffinityToken: sess.AffinityToken}

	visitor := req.user.Name
	if visitor == "" {
		visitor = cfg.VisitorName
	}
	if visitor == "" {
		visitor = "Visitor"
	}
	details := []salesforce.PrechatDetail{}
	if req.user.Email != "" {
		details = append(details, salesforce.Detail("Email", req.user.Email))
	}
	if subject != "" {
		details = append(details, salesforce.Detail("Subject", subject))
	}
	details = append(details, customDetails(req.agent.Handoff.CustomFields, req.body.CustomData)...)
	if transcript := salesforce.RenderTranscript(req.transcript); transcript != "" {
		details = append(details, salesforce.Detail("Transcript", transcript))
	}

	chatReq := salesforce.ChasitorInit{
		OrganizationID:      cfg.OrganizationID,
		DeploymentID:        cfg.DeploymentID,
		ButtonID:            cfg.ChatButtonID,
		SessionID:           sess.ID,
		UserAgent:           req.body.UserAgent,
		Language:            req.body.Language,
		ScreenResolution:    req.body.ScreenResolution,
		VisitorName:         visitor,
		PrechatDetails:      details,
		PrechatEntities:     []any{},
		ReceiveQueueUpdates: true,
		IsPost:              true,
	}
	if err := client.InitChat(ctx, auth, chatReq); err != nil {
		return initResult{}, err
	}
	return initResult{
		conversationID: sess.ID,
		session:        token.VendorSession{SessionKey: sess.Key, AffinityToken: sess.AffinityToken},
	}, nil
}

// customDetails renders configured custom fields in config order. Values the
// field list does not name are appended sorted by key.
func customDetails(fields []config.CustomField, data map[string]string) []salesforce.PrechatDetail {
	var out []salesforce.PrechatDetail
	named := make(map[string]bool, len(fields))
	for _, f := range fields {
		named[f.Name] = true
		v, ok := data[f.Name]
		if !ok || v == "" {
			continue
		}
		label := f.Label
		if label == "" {
			label = f.Name
		}
		out = append(out, salesforce.Detail(label, v))
	}
	var extra []string
	for k := range data {
		if !named[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, salesforce.Detail(k, data[k]))
	}
	return out
}

func (s *Server) initMessaging(ctx context.Context, req initRequest) (initResult, error) {
	cfg := req.agent.Handoff.SalesforceMessaging
	if cfg == nil {
		return initResult{}, errVendorConfig
	}
	client := messaging.NewClient(*cfg, s.httpClient, s.log.Sub("messaging"))

	tok, err := client.NewAccessToken(ctx)
	if err != nil {
		return initResult{}, err
	}

	routing := map[string]any{}
	for k, v := range req.body.CustomData {
		routing[k] = v
	}
	if req.user.Email != "" {
		routing["email"] = req.user.Email
	}
	if transcript := salesforce.RenderTranscript(req.transcript); transcript != "" {
		routing["transcript"] = transcript
	}

	convID, err := client.CreateConversation(ctx, tok.AccessToken, routing)
	if err != nil {
		return initResult{}, err
	}
	return initResult{
		conversationID: convID,
		session:        token.VendorSession{AccessToken: tok.AccessToken},
	}, nil
}

func (s *Server) initZendesk(ctx context.Context, req initRequest) (initResult, error) {
	cfg := req.agent.Handoff.Zendesk
	if cfg == nil {
		return initResult{}, errVendorConfig
	}
	client := zendesk.NewClient(*cfg, s.httpClient, s.log.Sub("zendesk"))

	externalID := req.user.ExternalID
	if externalID == "" {
		externalID = req.sessionID
	}
	userID, err := client.UpsertUser(ctx, externalID, req.user.Email, req.user.Name)
	if err != nil {
		return initResult{}, err
	}
	convID, err := client.CreateConversation(ctx, userID)
	if err != nil {
		return initResult{}, err
	}
	for _, msg := range replayable(req.transcript) {
		msg.Metadata = map[string]string{"conversationId": convID}
		if err := client.PostMessage(ctx, convID, userID, msg); err != nil {
			return initResult{}, fmt.Errorf("replay transcript: %w", err)
		}
	}

	metadata := map[string]string{}
	for k, v := range req.body.CustomData {
		metadata["dataCapture.ticketField."+k] = v
	}
	group := cfg.SwitchboardGroup
	if group == "" {
		group = "zd-agentWorkspace"
	}
	if err := client.PassControl(ctx, convID, group, metadata); err != nil {
		return initResult{}, err
	}
	return initResult{
		conversationID: convID,
		session:        token.VendorSession{UserID: userID},
	}, nil
}

func (s *Server) initFront(ctx context.Context, req initRequest) (initResult, error) {
	cfg := req.agent.Handoff.Front
	if cfg == nil {
		return initResult{}, errVendorConfig
	}
	client := front.NewClient(*cfg, s.httpClient, s.log.Sub("front"))

	convID := uuid.NewString()
	recipient := frontRecipient(req.user, req.sessionID)
	for _, msg := range replayable(req.transcript) {
		meta := front.MessageMetadata{ExternalID: uuid.NewString(), ExternalConversationID: convID}
		var err error
		if msg.FromUser() {
			err = client.SendInbound(ctx, recipient, msg.Text(), meta)
		} else {
			err = client.SendOutbound(ctx, botDisplayName, recipient, msg.Text(), meta)
		}
		if err != nil {
			return initResult{}, fmt.Errorf("replay transcript: %w", err)
		}
	}
	return initResult{
		conversationID: convID,
		session:        token.VendorSession{Handle: recipient.Handle, Name: recipient.Name},
	}, nil
}

// replayable drops transcript entries without text. Zendesk and Front both
// reject empty text messages.
func replayable(transcript []domain.HandoffChatMessage) []domain.HandoffChatMessage {
	out := make([]domain.HandoffChatMessage, 0, len(transcript))
	for _, msg := range transcript {
		if strings.TrimSpace(msg.Text()) != "" {
			out = append(out, msg)
		}
	}
	return out
}

// frontRecipient identifies the end user on channel messages. Anonymous
// users are keyed by session.
func frontRecipient(user token.UserData, sessionID string) front.Recipient {
	handle := user.Email
	if handle == "" {
		handle = user.ExternalID
	}
	if handle == "" {
		handle = sessionID
	}
	return front.Recipient{Handle: handle, Name: user.Name}
}

// handlePassControl ends the handoff: the session is revoked, then the
// vendor side is released on a best-effort basis.
func (s *Server) handlePassControl(w http.ResponseWriter, r *http.Request) {
	vendor, ok := routeVendor(w, r)
	if !ok {
		return
	}
	auth, ok := s.authenticate(w, r, vendor)
	if !ok {
		return
	}
	var body PassControlRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := s.log.With("vendor", string(vendor)).With("session", auth.session.ID)
	if err := s.sessions.MarkEnded(r.Context(), auth.session.ID); err != nil {
		log.Error().Err(err).Msg("ending handoff session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ctx, cancel := detached(r.Context(), teardownTimeout)
	defer cancel()
	if err := s.releaseVendor(ctx, vendor, auth); err != nil {
		log.Warn().Err(err).Msg("vendor teardown failed")
	}
	log.Info().Msg("handoff ended")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) releaseVendor(ctx context.Context, vendor domain.HandoffType, auth *authorized) error {
	h := auth.agent.Handoff
	ses := auth.claims.Session
	switch vendor {
	case domain.HandoffSalesforce:
		if h.Salesforce == nil {
			return errVendorConfig
		}
		client := salesforce.NewClient(*h.Salesforce, s.httpClient, s.log.Sub("salesforce"))
		return client.EndChat(ctx, salesforce.Auth{Key: ses.SessionKey, AffinityToken: ses.AffinityToken})
	case domain.HandoffSalesforceMessaging:
		if h.SalesforceMessaging == nil {
			return errVendorConfig
		}
		client := messaging.NewClient(*h.SalesforceMessaging, s.httpClient, s.log.Sub("messaging"))
		return client.CloseConversation(ctx, ses.AccessToken, auth.claims.ConversationID)
	case domain.HandoffZendesk:
		if h.Zendesk == nil {
			return errVendorConfig
		}
		if h.Zendesk.BotIntegrationID == "" {
			return nil
		}
		client := zendesk.NewClient(*h.Zendesk, s.httpClient, s.log.Sub("zendesk"))
		return client.PassControl(ctx, auth.claims.ConversationID, h.Zendesk.BotIntegrationID, nil)
	default:
		// Front conversations are closed by the agent in Front.
		return nil
	}
}
