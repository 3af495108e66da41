package messaging

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.SalesforceMessagingConfig{
		BaseURL:             srv.URL,
		OrganizationID:      "00Dxx",
		DeploymentName:      "Web_Chat",
		CapabilitiesVersion: "1",
		Platform:            "Web",
	}, srv.Client(), nil)
}

func TestNewAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/iamessage/api/v2/authorization/unauthenticated/access-token", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "00Dxx", body["orgId"])
		assert.Equal(t, "Web_Chat", body["esDeveloperName"])
		_, _ = w.Write([]byte(`{"accessToken":"at-1","lastEventId":"0"}`))
	})

	tok, err := c.NewAccessToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok.AccessToken)
}

func TestCreateConversation(t *testing.T) {
	var gotID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/iamessage/api/v2/conversation", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		var body struct {
			ConversationID    string         `json:"conversationId"`
			RoutingAttributes map[string]any `json:"routingAttributes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotID = body.ConversationID
		assert.Equal(t, "a@b.com", body.RoutingAttributes["Email"])
		w.WriteHeader(http.StatusCreated)
	})

	id, err := c.CreateConversation(t.Context(), "at-1", map[string]any{"Email": "a@b.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, gotID, id)
}

func TestSendAndClose(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"text":"hi there"`)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		assert.Equal(t, "Web_Chat", r.URL.Query().Get("esDeveloperName"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.SendMessage(t.Context(), "at-1", "conv-1", "hi there"))
	require.NoError(t, c.CloseConversation(t.Context(), "at-1", "conv-1"))
	assert.Equal(t, []string{
		"POST /iamessage/api/v2/conversation/conv-1/message",
		"DELETE /iamessage/api/v2/conversation/conv-1",
	}, calls)
}

func TestSendMessageError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	})
	err := c.SendMessage(t.Context(), "at-1", "conv-1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestOpenStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eventrouter/v1/sse", r.URL.Path)
		assert.Equal(t, "00Dxx", r.Header.Get("X-Org-Id"))
		assert.Equal(t, "41", r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": ping\n\nevent: CONVERSATION_MESSAGE\nid: 42\ndata: {\"conversationId\":\"c1\"}\n\n")
	})

	stream, err := c.OpenStream(t.Context(), "at-1", "41")
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventMessage, ev.Name)
	assert.Equal(t, "42", ev.ID)
	assert.JSONEq(t, `{"conversationId":"c1"}`, ev.Data)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenStreamRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.OpenStream(t.Context(), "bad", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestConversationEntryText(t *testing.T) {
	entry := ConversationEntry{
		EntryType:    "Message",
		EntryPayload: `{"abstractMessage":{"staticContent":{"formatType":"Text","text":"How can I help?"}}}`,
	}
	entry.Sender.Role = RoleAgent
	assert.Equal(t, "How can I help?", entry.Text())
	assert.True(t, entry.FromAgent())

	entry.EntryPayload = "not json"
	assert.Empty(t, entry.Text())
	entry.Sender.Role = RoleEndUser
	assert.False(t, entry.FromAgent())
}
