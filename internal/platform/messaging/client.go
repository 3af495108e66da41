// Package messaging is a client for Salesforce Messaging for In-App and Web.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/sse"
)

const (
	vendorName = "salesforce-messaging"
	apiPrefix  = "/iamessage/api/v2"
)

// Event names emitted on the event-router stream.
const (
	EventMessage           = "CONVERSATION_MESSAGE"
	EventTypingStarted     = "CONVERSATION_TYPING_STARTED_INDICATOR"
	EventTypingStopped     = "CONVERSATION_TYPING_STOPPED_INDICATOR"
	EventParticipantChange = "CONVERSATION_PARTICIPANT_CHANGED"
	EventCloseConversation = "CONVERSATION_CLOSE_CONVERSATION"
)

// Client talks to one embedded service deployment.
type Client struct {
	cfg    config.SalesforceMessagingConfig
	client *http.Client
	log    *logging.Logger
}

// NewClient creates a messaging client. The http client must not impose an
// overall timeout when used for Stream.
func NewClient(cfg config.SalesforceMessagingConfig, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{cfg: cfg, client: httpClient, log: log}
}

// AccessToken is an unauthenticated end-user token.
type AccessToken struct {
	AccessToken string `json:"accessToken"`
	LastEventID string `json:"lastEventId,omitempty"`
}

// NewAccessToken issues a token for an anonymous end user.
func (c *Client) NewAccessToken(ctx context.Context) (*AccessToken, error) {
	body := map[string]any{
		"orgId":               c.cfg.OrganizationID,
		"esDeveloperName":     c.cfg.DeploymentName,
		"capabilitiesVersion": c.cfg.CapabilitiesVersion,
		"platform":            c.cfg.Platform,
		"context": map[string]string{
			"appName":       "handoff",
			"clientVersion": "1.0.0",
		},
	}
	var tok AccessToken
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/authorization/unauthenticated/access-token", "", body, "access_token", &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// CreateConversation starts a conversation routed with the given attributes.
// It returns the generated conversation id.
func (c *Client) CreateConversation(ctx context.Context, accessToken string, routingAttributes map[string]any) (string, error) {
	id := uuid.NewString()
	body := map[string]any{
		"conversationId":    id,
		"esDeveloperName":   c.cfg.DeploymentName,
		"routingAttributes": routingAttributes,
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/conversation", accessToken, body, "create_conversation", nil); err != nil {
		return "", err
	}
	return id, nil
}

// SendMessage posts end-user text to the conversation.
func (c *Client) SendMessage(ctx context.Context, accessToken, conversationID, text string) error {
	body := map[string]any{
		"message": map[string]any{
			"id":          uuid.NewString(),
			"messageType": "StaticContentMessage",
			"staticContent": map[string]string{
				"formatType": "Text",
				"text":       text,
			},
		},
		"esDeveloperName":       c.cfg.DeploymentName,
		"isNewMessagingSession": false,
	}
	path := apiPrefix + "/conversation/" + url.PathEscape(conversationID) + "/message"
	return c.do(ctx, http.MethodPost, path, accessToken, body, "send_message", nil)
}

// CloseConversation ends the conversation for both sides.
func (c *Client) CloseConversation(ctx context.Context, accessToken, conversationID string) error {
	path := apiPrefix + "/conversation/" + url.PathEscape(conversationID) +
		"?esDeveloperName=" + url.QueryEscape(c.cfg.DeploymentName)
	return c.do(ctx, http.MethodDelete, path, accessToken, nil, "close_conversation", nil)
}

// Stream is an open event-router connection.
type Stream struct {
	body   io.ReadCloser
	reader *sse.Reader
}

// Next returns the next vendor event; io.EOF when the vendor closes.
func (s *Stream) Next() (sse.Event, error) { return s.reader.Next() }

// Close releases the connection.
func (s *Stream) Close() error { return s.body.Close() }

// OpenStream connects to the event-router SSE endpoint. lastEventID resumes
// after a previously seen event when non-empty.
func (c *Client) OpenStream(ctx context.Context, accessToken, lastEventID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/eventrouter/v1/sse"), nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Org-Id", c.cfg.OrganizationID)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, "stream", 0, started)
		return nil, fmt.Errorf("messaging: stream request: %w", err)
	}
	metrics.ObserveVendorCall(vendorName, "stream", resp.StatusCode, started)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("messaging: stream error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &Stream{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

func (c *Client) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body any, operation string, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("messaging: marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), rdr)
	if err != nil {
		return fmt.Errorf("messaging: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, operation, 0, started)
		return fmt.Errorf("messaging: %s request: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveVendorCall(vendorName, operation, resp.StatusCode, started)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("messaging: read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Str("operation", operation).Int("status", resp.StatusCode).Msg("messaging request failed")
		return fmt.Errorf("messaging: %s error (%d): %s", operation, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("messaging: parse %s response: %w", operation, err)
	}
	return nil
}
