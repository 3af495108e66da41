// Package salesforce is a client for the Salesforce LiveAgent chat REST API.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
)

const vendorName = "salesforce"

// Auth carries the per-session LiveAgent headers.
type Auth struct {
	Key           string `json:"key"`
	AffinityToken string `json:"affinity"`
}

// Client talks to one LiveAgent deployment.
type Client struct {
	cfg    config.SalesforceConfig
	client *http.Client
	log    *logging.Logger
}

// NewClient creates a LiveAgent client. A nil httpClient uses a client whose
// timeout covers the vendor long-poll.
func NewClient(cfg config.SalesforceConfig, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{cfg: cfg, client: httpClient, log: log}
}

// CreateSession opens a LiveAgent session (System/SessionId).
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "System/SessionId", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-LIVEAGENT-AFFINITY", "null")

	var sess Session
	if err := c.doJSON(req, "session", &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// InitChat submits the chat request for a session (Chasitor/ChasitorInit).
func (c *Client) InitChat(ctx context.Context, auth Auth, init ChasitorInit) error {
	req, err := c.newRequest(ctx, http.MethodPost, "Chasitor/ChasitorInit", init)
	if err != nil {
		return err
	}
	c.setAuth(req, auth)
	req.Header.Set("X-LIVEAGENT-SEQUENCE", "1")
	return c.doJSON(req, "chasitor_init", nil)
}

// Messages long-polls for events after ack. A 204 means no new messages and
// is reported as an empty batch at the same sequence.
func (c *Client) Messages(ctx context.Context, auth Auth, ack int64) (*MessagesResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "System/Messages?ack="+strconv.FormatInt(ack, 10), nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req, auth)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, "messages", 0, started)
		return nil, fmt.Errorf("salesforce: messages request: %w", err)
	}
	defer resp.Body.Close()
	metrics.ObserveVendorCall(vendorName, "messages", resp.StatusCode, started)

	switch resp.StatusCode {
	case http.StatusNoContent:
		return &MessagesResponse{Messages: []Message{}, Sequence: ack, Offset: 0}, nil
	case http.StatusOK:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ChatMessagesError{Status: resp.StatusCode}
	}

	var out MessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("salesforce: decode messages: %w", err)
	}
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return &out, nil
}

// SendMessage posts visitor text to the agent (Chasitor/ChatMessage).
func (c *Client) SendMessage(ctx context.Context, auth Auth, text string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "Chasitor/ChatMessage", map[string]string{"text": text})
	if err != nil {
		return err
	}
	c.setAuth(req, auth)
	return c.doJSON(req, "chat_message", nil)
}

// EndChat ends the visitor side of the chat (Chasitor/ChatEnd).
func (c *Client) EndChat(ctx context.Context, auth Auth) error {
	body := map[string]any{"ChatEndReason": map[string]string{"reason": "client"}}
	req, err := c.newRequest(ctx, http.MethodPost, "Chasitor/ChatEnd", body)
	if err != nil {
		return err
	}
	c.setAuth(req, auth)
	return c.doJSON(req, "chat_end", nil)
}

// Availability reports whether the configured chat button has an agent.
// found is false when the response does not mention the button.
func (c *Client) Availability(ctx context.Context) (available, found bool, err error) {
	q := url.Values{}
	q.Set("org_id", c.cfg.OrganizationID)
	q.Set("deployment_id", c.cfg.DeploymentID)
	q.Set("Availability.ids", c.cfg.ChatButtonID)

	req, err := c.newRequest(ctx, http.MethodGet, "Visitor/Availability?"+q.Encode(), nil)
	if err != nil {
		return false, false, err
	}

	var out struct {
		Messages []struct {
			Type    string `json:"type"`
			Message struct {
				Results []struct {
					ID          string `json:"id"`
					IsAvailable bool   `json:"isAvailable"`
				} `json:"results"`
			} `json:"message"`
		} `json:"messages"`
	}
	if err := c.doJSON(req, "availability", &out); err != nil {
		return false, false, err
	}
	for _, m := range out.Messages {
		for _, r := range m.Message.Results {
			if r.ID == c.cfg.ChatButtonID {
				return r.IsAvailable, true, nil
			}
		}
	}
	return false, false, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("salesforce: marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, fmt.Errorf("salesforce: create request: %w", err)
	}
	req.Header.Set("X-LIVEAGENT-API-VERSION", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) setAuth(req *http.Request, auth Auth) {
	req.Header.Set("X-LIVEAGENT-AFFINITY", auth.AffinityToken)
	req.Header.Set("X-LIVEAGENT-SESSION-KEY", auth.Key)
}

// doJSON executes req and decodes a JSON body into out when out is non-nil.
func (c *Client) doJSON(req *http.Request, operation string, out any) error {
	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, operation, 0, started)
		return fmt.Errorf("salesforce: %s request: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveVendorCall(vendorName, operation, resp.StatusCode, started)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("salesforce: read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Str("operation", operation).Int("status", resp.StatusCode).Msg("liveagent request failed")
		return fmt.Errorf("salesforce: %s error (%d): %s", operation, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("salesforce: parse %s response: %w", operation, err)
	}
	return nil
}
