// Package zendesk is a client for Sunshine Conversations and the Zendesk
// agent availability API.
package zendesk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
)

const vendorName = "zendesk"

// ErrAvailabilityDisabled is returned when no availability credentials are configured.
var ErrAvailabilityDisabled = errors.New("zendesk: availability check credentials not configured")

// statusError reports a non-2xx vendor response.
type statusError struct {
	operation string
	status    int
	body      string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("zendesk: %s error (%d): %s", e.operation, e.status, e.body)
}

// Client talks to one Sunshine Conversations app.
type Client struct {
	cfg    config.ZendeskConfig
	client *http.Client
	log    *logging.Logger
}

// NewClient creates a Zendesk client.
func NewClient(cfg config.ZendeskConfig, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{cfg: cfg, client: httpClient, log: log}
}

func (c *Client) conversationsBase() string {
	if c.cfg.APIBaseURL != "" {
		return strings.TrimSuffix(c.cfg.APIBaseURL, "/")
	}
	return "https://" + c.cfg.Subdomain + ".zendesk.com/sc"
}

func (c *Client) supportBase() string {
	if c.cfg.SupportBaseURL != "" {
		return strings.TrimSuffix(c.cfg.SupportBaseURL, "/")
	}
	return "https://" + c.cfg.Subdomain + ".zendesk.com/api/v2"
}

func (c *Client) appPath(format string, args ...any) string {
	return c.conversationsBase() + "/v2/apps/" + url.PathEscape(c.cfg.AppID) + fmt.Sprintf(format, args...)
}

// UpsertUser creates the end user, or returns the existing one with the same
// external id.
func (c *Client) UpsertUser(ctx context.Context, externalID, email, name string) (string, error) {
	body := map[string]any{
		"externalId": externalID,
		"profile": map[string]string{
			"email":     email,
			"givenName": name,
		},
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, c.appPath("/users"), body, "create_user", &out)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusConflict {
		err = c.do(ctx, http.MethodGet, c.appPath("/users/%s", url.PathEscape(externalID)), nil, "get_user", &out)
	}
	if err != nil {
		return "", err
	}
	return out.User.ID, nil
}

// CreateConversation opens a personal conversation for the user.
func (c *Client) CreateConversation(ctx context.Context, userID string) (string, error) {
	body := map[string]any{
		"type": "personal",
		"participants": []map[string]any{
			{"userId": userID, "subscribeSDKClient": false},
		},
	}
	var out struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, c.appPath("/conversations"), body, "create_conversation", &out); err != nil {
		return "", err
	}
	return out.Conversation.ID, nil
}

// PostMessage appends a text message. User messages are attributed to
// userID; business messages to the bot display name.
func (c *Client) PostMessage(ctx context.Context, conversationID, userID string, msg domain.HandoffChatMessage) error {
	author := Author{Type: string(domain.AuthorBusiness), DisplayName: "AI Assistant"}
	if msg.FromUser() {
		author = Author{Type: string(domain.AuthorUser), UserID: userID}
	} else if msg.Author != nil && msg.Author.DisplayName != "" {
		author.DisplayName = msg.Author.DisplayName
	}
	body := map[string]any{
		"author":  author,
		"content": Content{Type: "text", Text: msg.Text()},
	}
	if len(msg.Metadata) > 0 {
		body["metadata"] = msg.Metadata
	}
	return c.do(ctx, http.MethodPost, c.appPath("/conversations/%s/messages", url.PathEscape(conversationID)), body, "post_message", nil)
}

// PassControl hands the conversation to a switchboard integration.
func (c *Client) PassControl(ctx context.Context, conversationID, switchboardIntegration string, metadata map[string]string) error {
	body := map[string]any{"switchboardIntegration": switchboardIntegration}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	return c.do(ctx, http.MethodPost, c.appPath("/conversations/%s/passControl", url.PathEscape(conversationID)), body, "pass_control", nil)
}

// OnlineAgents counts agents whose messaging channel status is online.
func (c *Client) OnlineAgents(ctx context.Context) (int, error) {
	if c.cfg.AvailabilityCheckAPIEmail == "" || c.cfg.AvailabilityCheckAPIToken == "" {
		return 0, ErrAvailabilityDisabled
	}
	q := url.Values{}
	q.Set("filter[channel_status]", "messaging:online")
	endpoint := c.supportBase() + "/agent_availabilities?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("zendesk: create request: %w", err)
	}
	cred := c.cfg.AvailabilityCheckAPIEmail + "/token:" + c.cfg.AvailabilityCheckAPIToken
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))
	req.Header.Set("Accept", "application/json")

	var out struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.send(req, "agent_availabilities", &out); err != nil {
		return 0, err
	}
	return len(out.Data), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, operation string, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("zendesk: marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("zendesk: create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.Secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, operation, out)
}

func (c *Client) send(req *http.Request, operation string, out any) error {
	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, operation, 0, started)
		return fmt.Errorf("zendesk: %s request: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveVendorCall(vendorName, operation, resp.StatusCode, started)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zendesk: read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode != http.StatusConflict {
			c.log.Warn().Str("operation", operation).Int("status", resp.StatusCode).Msg("zendesk request failed")
		}
		return &statusError{operation: operation, status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("zendesk: parse %s response: %w", operation, err)
	}
	return nil
}
