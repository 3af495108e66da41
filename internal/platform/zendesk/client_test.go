package zendesk

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ZendeskConfig{
		AppID:                     "app-1",
		KeyID:                     "key-1",
		Secret:                    "secret-1",
		APIBaseURL:                srv.URL + "/sc",
		SupportBaseURL:            srv.URL + "/api/v2",
		AvailabilityCheckAPIEmail: "ops@example.com",
		AvailabilityCheckAPIToken: "tok",
	}, srv.Client(), nil)
}

func TestUpsertUserCreates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sc/v2/apps/app-1/users", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key-1", user)
		assert.Equal(t, "secret-1", pass)
		_, _ = w.Write([]byte(`{"user":{"id":"u-1"}}`))
	})

	id, err := c.UpsertUser(t.Context(), "sess-1", "a@b.com", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
}

func TestUpsertUserConflictFetchesExisting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			assert.Equal(t, "/sc/v2/apps/app-1/users/sess-1", r.URL.Path)
			_, _ = w.Write([]byte(`{"user":{"id":"u-existing"}}`))
		}
	})

	id, err := c.UpsertUser(t.Context(), "sess-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "u-existing", id)
}

func TestCreateConversationAndMessages(t *testing.T) {
	var posted []map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sc/v2/apps/app-1/conversations":
			_, _ = w.Write([]byte(`{"conversation":{"id":"conv-1"}}`))
		case "/sc/v2/apps/app-1/conversations/conv-1/messages":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			posted = append(posted, body)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	conv, err := c.CreateConversation(t.Context(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv)

	require.NoError(t, c.PostMessage(t.Context(), conv, "u-1", domain.HandoffChatMessage{
		Author:  &domain.Author{Type: domain.AuthorUser},
		Content: &domain.Content{Type: "text", Text: "question"},
	}))
	require.NoError(t, c.PostMessage(t.Context(), conv, "u-1", domain.HandoffChatMessage{
		Author:  &domain.Author{Type: domain.AuthorBusiness},
		Content: &domain.Content{Type: "text", Text: "answer"},
	}))

	require.Len(t, posted, 2)
	assert.Equal(t, map[string]any{"type": "user", "userId": "u-1"}, posted[0]["author"])
	assert.Equal(t, "business", posted[1]["author"].(map[string]any)["type"])
	assert.Equal(t, "answer", posted[1]["content"].(map[string]any)["text"])
}

func TestPassControl(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sc/v2/apps/app-1/conversations/conv-1/passControl", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "zd-agentWorkspace", body["switchboardIntegration"])
		assert.Equal(t, map[string]any{"dataCapture.ticketField.plan": "pro"}, body["metadata"])
		w.WriteHeader(http.StatusOK)
	})

	err := c.PassControl(t.Context(), "conv-1", "zd-agentWorkspace", map[string]string{"dataCapture.ticketField.plan": "pro"})
	require.NoError(t, err)
}

func TestOnlineAgents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/agent_availabilities", r.URL.Path)
		assert.Equal(t, "messaging:online", r.URL.Query().Get("filter[channel_status]"))
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops@example.com/token:tok"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"1"},{"id":"2"}]}`))
	})

	n, err := c.OnlineAgents(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOnlineAgentsRequiresCredentials(t *testing.T) {
	c := NewClient(config.ZendeskConfig{Subdomain: "acme"}, nil, nil)
	_, err := c.OnlineAgents(t.Context())
	assert.ErrorIs(t, err, ErrAvailabilityDisabled)
}

func TestWebhookMessageEvents(t *testing.T) {
	raw := `{
		"app": {"id": "app-1"},
		"events": [
			{"id": "e1", "type": "conversation:message", "createdAt": "2025-01-21T13:00:00.000Z",
			 "payload": {"conversation": {"id": "conv-1"},
			             "message": {"id": "m1", "author": {"type": "business", "displayName": "Ana"},
			                         "content": {"type": "text", "text": "Hi, I'm Ana"}}}},
			{"id": "e2", "type": "conversation:read", "payload": {}},
			{"id": "e3", "type": "conversation:message", "payload": "garbage"}
		]
	}`

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	events := payload.MessageEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "conv-1", events[0].ConversationID)
	assert.Equal(t, "message", events[0].Event.Type)
	assert.Equal(t, "Ana", events[0].Event.Payload.Message.Author.DisplayName)
	assert.Equal(t, "2025-01-21T13:00:00.000Z", events[0].Event.CreatedAt)
}
