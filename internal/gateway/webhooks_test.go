package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/platform/front"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
	"github.com/soyeahso/handoff/internal/relay"
	"github.com/soyeahso/handoff/internal/sse"
	"github.com/soyeahso/handoff/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures vendor calls by path.
type recorder struct {
	mu    sync.Mutex
	calls map[string][]map[string]any
}

func (r *recorder) add(path string, body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string][]map[string]any{}
	}
	r.calls[path] = append(r.calls[path], body)
}

func (r *recorder) get(path string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[path]
}

func newFakeVendor(t *testing.T, rec *recorder, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.add(r.Method+" "+r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			_, _ = w.Write([]byte(resp))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func zendeskAgent(baseURL string) config.AgentConfig {
	return config.AgentConfig{
		ID:             "zd-agent",
		OrganizationID: "org-1",
		Handoff: config.HandoffConfig{
			Type: domain.HandoffZendesk,
			Zendesk: &config.ZendeskConfig{
				AppID:            "app1",
				KeyID:            "key1",
				Secret:           "secret1",
				WebhookSecret:    "hook-secret",
				BotIntegrationID: "bot-1",
				APIBaseURL:       baseURL,
			},
		},
	}
}

func frontAgent(baseURL string) config.AgentConfig {
	return config.AgentConfig{
		ID:             "front-agent",
		OrganizationID: "org-1",
		Handoff: config.HandoffConfig{
			Type: domain.HandoffFront,
			Front: &config.FrontConfig{
				AppID:     "front-app",
				AppSecret: "front-secret",
				ChannelID: "cha_1",
				BaseURL:   baseURL,
			},
		},
	}
}

// openStream starts a relay stream and waits until its subscription is live.
func openStream(t *testing.T, h *harness, vendor string, headers map[string]string) (*sse.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+"/api/handoff/"+vendor+"/messages", nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	before := h.broker.Subscribers()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The relay subscribes before committing the 200.
	require.Greater(t, h.broker.Subscribers(), before, "stream opened before its subscription")
	return sse.NewReader(resp.Body), cancel
}

func nextFrame(t *testing.T, rd *sse.Reader) relay.Frame {
	t.Helper()
	type result struct {
		ev  sse.Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ev, err := rd.Next()
		ch <- result{ev, err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		var frame relay.Frame
		require.NoError(t, json.Unmarshal([]byte(res.ev.Data), &frame))
		return frame
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return relay.Frame{}
	}
}

func zendeskDelivery(conversationID, messageID, text string) map[string]any {
	return map[string]any{
		"app": map[string]string{"id": "app1"},
		"events": []map[string]any{
			{
				"id":        "evt-" + messageID,
				"createdAt": "2025-01-21T13:00:00.000Z",
				"type":      zendesk.EventConversationMessage,
				"payload": map[string]any{
					"conversation": map[string]string{"id": conversationID},
					"message": map[string]any{
						"id":      messageID,
						"author":  map[string]string{"type": "business", "displayName": "Ada"},
						"content": map[string]string{"type": "text", "text": text},
					},
				},
			},
			{"id": "evt-other", "type": "conversation:read", "payload": map[string]any{}},
		},
	}
}

func TestZendeskInitSendAndPassControl(t *testing.T) {
	rec := &recorder{}
	vendor := newFakeVendor(t, rec, map[string]string{
		"POST /v2/apps/app1/users":         `{"user":{"id":"u1"}}`,
		"POST /v2/apps/app1/conversations": `{"conversation":{"id":"c1"}}`,
	})
	agent := zendeskAgent(vendor.URL)
	h := newHarness(t, []config.AgentConfig{agent})

	resp := h.do(t, http.MethodPost, "/api/handoff/zendesk/conversations", map[string]string{
		handoff.HeaderAgentID: agent.ID,
	}, ConversationRequest{
		Messages: []domain.Message{
			{Type: domain.MessageUser, Text: "hello"},
			{Type: domain.MessageBot, Responses: []domain.Response{{Type: "text", Text: "hi there"}}},
			{Type: domain.MessageError, Text: "oops"},
			{Type: domain.MessageBot, Responses: []domain.Response{{Type: "buttons", Text: "Talk to a human"}}},
		},
		Email:      "ann@example.com",
		CustomData: map[string]string{"360001": "gold"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := resp.Header.Get(handoff.HeaderAuthToken)
	require.NotEmpty(t, tok)
	assert.Equal(t, "c1", decodeBody[ConversationResponse](t, resp).ConversationID)

	users := rec.get("POST /v2/apps/app1/users")
	require.Len(t, users, 1)
	assert.Equal(t, "ann@example.com", users[0]["profile"].(map[string]any)["email"])

	replayed := rec.get("POST /v2/apps/app1/conversations/c1/messages")
	require.Len(t, replayed, 2, "error and empty messages are not replayed")
	assert.Equal(t, "user", replayed[0]["author"].(map[string]any)["type"])
	assert.Equal(t, "business", replayed[1]["author"].(map[string]any)["type"])
	assert.Equal(t, "c1", replayed[0]["metadata"].(map[string]any)["conversationId"])

	passes := rec.get("POST /v2/apps/app1/conversations/c1/passControl")
	require.Len(t, passes, 1)
	assert.Equal(t, "zd-agentWorkspace", passes[0]["switchboardIntegration"])
	assert.Equal(t, "gold", passes[0]["metadata"].(map[string]any)["dataCapture.ticketField.360001"])

	send := h.do(t, http.MethodPost, "/api/handoff/zendesk/messages", authHeaders(agent, tok), SendRequest{Message: "any update?"})
	require.Equal(t, http.StatusAccepted, send.StatusCode)
	replayed = rec.get("POST /v2/apps/app1/conversations/c1/messages")
	require.Len(t, replayed, 3)
	assert.Equal(t, "u1", replayed[2]["author"].(map[string]any)["userId"])
	assert.Equal(t, "any update?", replayed[2]["content"].(map[string]any)["text"])

	end := h.do(t, http.MethodPost, "/api/handoff/zendesk/conversations/passControl", authHeaders(agent, tok), nil)
	require.Equal(t, http.StatusOK, end.StatusCode)
	passes = rec.get("POST /v2/apps/app1/conversations/c1/passControl")
	require.Len(t, passes, 2)
	assert.Equal(t, "bot-1", passes[1]["switchboardIntegration"])
}

func TestZendeskWebhookReachesStream(t *testing.T) {
	agent := zendeskAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})
	tok, _ := h.seedSession(t, agent, "c1", token.VendorSession{UserID: "u1"})

	rd, _ := openStream(t, h, "zendesk", authHeaders(agent, tok))

	hook := map[string]string{headerZendeskAPIKey: "hook-secret"}
	resp := h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, hook, zendeskDelivery("c1", "m1", "an agent is here"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[map[string]int](t, resp)["published"])

	frame := nextFrame(t, rd)
	assert.Equal(t, "zendesk:org-1:zd-agent:c1:m1", frame.Channel)
	var ev zendesk.Event
	require.NoError(t, json.Unmarshal(frame.Message, &ev))
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "an agent is here", ev.Payload.Message.Content.Text)
	assert.Equal(t, "Ada", ev.Payload.Message.Author.DisplayName)

	// Redelivery of the same message is acknowledged but not relayed again.
	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, hook, zendeskDelivery("c1", "m1", "an agent is here"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decodeBody[map[string]int](t, resp)["published"])

	// Other conversations do not leak into this stream.
	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, hook, zendeskDelivery("c2", "m2", "not yours"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, hook, zendeskDelivery("c1", "m3", "still here"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame = nextFrame(t, rd)
	assert.Equal(t, "zendesk:org-1:zd-agent:c1:m3", frame.Channel)
}

func TestZendeskWebhookRejections(t *testing.T) {
	agent := zendeskAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})

	resp := h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, map[string]string{headerZendeskAPIKey: "wrong"}, zendeskDelivery("c1", "m1", "x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, nil, zendeskDelivery("c1", "m1", "x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/unknown", map[string]string{headerZendeskAPIKey: "hook-secret"}, zendeskDelivery("c1", "m1", "x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/handoff/zendesk/webhook/"+agent.ID, map[string]string{headerZendeskAPIKey: "hook-secret"}, "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signedFrontRequest(t *testing.T, h *harness, agentID, secret string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return h.do(t, http.MethodPost, "/api/handoff/front/webhook/"+agentID, map[string]string{
		headerFrontTimestamp: ts,
		headerFrontSignature: front.Sign(secret, ts, body),
	}, body)
}

func frontDelivery(conversationIDs []string, messageID, text string) map[string]any {
	return map[string]any{
		"type": front.WebhookMessage,
		"payload": map[string]any{
			"id":         messageID,
			"body":       "<p>" + text + "</p>",
			"text":       text,
			"created_at": 1737464400.123,
			"author":     map[string]string{"first_name": "Ada", "last_name": "Lovelace"},
		},
		"metadata": map[string]any{"external_conversation_ids": conversationIDs},
	}
}

func TestFrontWebhookReachesStream(t *testing.T) {
	agent := frontAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})
	tok, _ := h.seedSession(t, agent, "fc1", token.VendorSession{Handle: "ann@example.com"})

	rd, _ := openStream(t, h, "front", authHeaders(agent, tok))

	resp := signedFrontRequest(t, h, agent.ID, "front-secret", frontDelivery([]string{"fc1"}, "msg_1", "hello from front"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ack := decodeBody[front.WebhookResponse](t, resp)
	assert.Equal(t, "success", ack.Type)
	assert.Equal(t, "msg_1", ack.ExternalID)
	assert.Equal(t, "fc1", ack.ExternalConversationID)

	frame := nextFrame(t, rd)
	assert.Equal(t, "front:org-1:front-agent:fc1:msg_1", frame.Channel)
	var ev front.Event
	require.NoError(t, json.Unmarshal(frame.Message, &ev))
	assert.Equal(t, front.WebhookMessage, ev.Type)
	assert.Equal(t, "hello from front", ev.Text)
	assert.Equal(t, "Ada Lovelace", ev.Author.FullName())
}

func TestStreamSubscribeFailureIsBadGateway(t *testing.T) {
	agent := frontAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})
	tok, _ := h.seedSession(t, agent, "fc1", token.VendorSession{Handle: "ann@example.com"})
	require.NoError(t, h.broker.Close())

	resp := h.do(t, http.MethodGet, "/api/handoff/front/messages", authHeaders(agent, tok), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEqual(t, "text/event-stream", resp.Header.Get("Content-Type"))
}

func TestFrontWebhookOtherTypes(t *testing.T) {
	agent := frontAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})

	resp := signedFrontRequest(t, h, agent.ID, "front-secret", map[string]any{"type": front.WebhookAuthorization, "payload": map[string]any{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decodeBody[front.WebhookResponse](t, resp).Type)

	resp = signedFrontRequest(t, h, agent.ID, "front-secret", map[string]any{"type": "message_imported", "payload": map[string]any{}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFrontWebhookRejectsBadSignature(t *testing.T) {
	agent := frontAgent("http://127.0.0.1:0")
	h := newHarness(t, []config.AgentConfig{agent})

	resp := signedFrontRequest(t, h, agent.ID, "not-the-secret", frontDelivery([]string{"fc1"}, "msg_1", "x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/handoff/front/webhook/"+agent.ID, nil, frontDelivery([]string{"fc1"}, "msg_1", "x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = signedFrontRequest(t, h, "zd-agent", "front-secret", frontDelivery([]string{"fc1"}, "msg_1", "x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFrontInitAndSend(t *testing.T) {
	rec := &recorder{}
	vendor := newFakeVendor(t, rec, nil)
	agent := frontAgent(vendor.URL)
	h := newHarness(t, []config.AgentConfig{agent})

	resp := h.do(t, http.MethodPost, "/api/handoff/front/conversations", map[string]string{
		handoff.HeaderAgentID: agent.ID,
	}, ConversationRequest{
		Messages: []domain.Message{
			{Type: domain.MessageUser, Text: "my card was charged twice"},
			{Type: domain.MessageBot, Responses: []domain.Response{{Type: "text", Text: "connecting you"}}},
			{Type: domain.MessageUser, Text: "  "},
		},
		UnsignedUserData: map[string]string{"name": "Ann", "email": "ann@example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := resp.Header.Get(handoff.HeaderAuthToken)
	convID := decodeBody[ConversationResponse](t, resp).ConversationID
	require.NotEmpty(t, convID)

	inbound := rec.get("POST /channels/cha_1/inbound_messages")
	outbound := rec.get("POST /channels/cha_1/outbound_messages")
	require.Len(t, inbound, 1)
	require.Len(t, outbound, 1)
	assert.Equal(t, "ann@example.com", inbound[0]["sender"].(map[string]any)["handle"])
	assert.Equal(t, convID, inbound[0]["metadata"].(map[string]any)["external_conversation_id"])
	assert.Equal(t, botDisplayName, outbound[0]["sender_name"])

	send := h.do(t, http.MethodPost, "/api/handoff/front/messages", authHeaders(agent, tok), SendRequest{Message: "still waiting"})
	require.Equal(t, http.StatusAccepted, send.StatusCode)
	inbound = rec.get("POST /channels/cha_1/inbound_messages")
	require.Len(t, inbound, 2)
	assert.Equal(t, "still waiting", inbound[1]["body"])
	assert.Equal(t, "Ann", inbound[1]["sender"].(map[string]any)["name"])

	end := h.do(t, http.MethodPost, "/api/handoff/front/conversations/passControl", authHeaders(agent, tok), nil)
	assert.Equal(t, http.StatusOK, end.StatusCode)
}

func TestVendorSendFailureIsBadGateway(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)
	agent := zendeskAgent(failing.URL)
	h := newHarness(t, []config.AgentConfig{agent})
	tok, _ := h.seedSession(t, agent, "c1", token.VendorSession{UserID: "u1"})

	resp := h.do(t, http.MethodPost, "/api/handoff/zendesk/messages", authHeaders(agent, tok), SendRequest{Message: "hello"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
