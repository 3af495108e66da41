// Package front is a client for Front application channels and the Front
// shifts API.
package front

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
)

const (
	vendorName      = "front"
	defaultBaseURL  = "https://api2.frontapp.com"
	channelTokenTTL = 30 * time.Second
)

// ErrNoShifts is returned when no shift names are configured.
var ErrNoShifts = errors.New("front: no shifts configured")

// Client talks to one Front application channel.
type Client struct {
	cfg    config.FrontConfig
	client *http.Client
	log    *logging.Logger
	now    func() time.Time
}

// NewClient creates a Front client.
func NewClient(cfg config.FrontConfig, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{cfg: cfg, client: httpClient, log: log, now: time.Now}
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimSuffix(c.cfg.BaseURL, "/")
	}
	return defaultBaseURL
}

// ChannelToken signs the short-lived bearer token channel endpoints require.
func (c *Client) ChannelToken() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.AppID,
		Subject:   c.cfg.ChannelID,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(channelTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.cfg.AppSecret))
	if err != nil {
		return "", fmt.Errorf("front: sign channel token: %w", err)
	}
	return signed, nil
}

// SendInbound records a message written by the end user.
func (c *Client) SendInbound(ctx context.Context, sender Recipient, body string, meta MessageMetadata) error {
	payload := map[string]any{
		"sender":   sender,
		"body":     body,
		"metadata": meta,
	}
	return c.channelPost(ctx, "inbound_messages", payload, "inbound_message")
}

// SendOutbound records a message written on the business side (the AI
// assistant) so agents see the whole transcript.
func (c *Client) SendOutbound(ctx context.Context, senderName string, to Recipient, body string, meta MessageMetadata) error {
	payload := map[string]any{
		"sender_name": senderName,
		"to":          []Recipient{to},
		"body":        body,
		"metadata":    meta,
	}
	return c.channelPost(ctx, "outbound_messages", payload, "outbound_message")
}

func (c *Client) channelPost(ctx context.Context, path string, payload any, operation string) error {
	token, err := c.ChannelToken()
	if err != nil {
		return err
	}
	endpoint := c.baseURL() + "/channels/" + url.PathEscape(c.cfg.ChannelID) + "/" + path
	return c.do(ctx, http.MethodPost, endpoint, token, payload, operation, nil)
}

// Shifts lists the configured shifts by name. Unknown names are ignored.
func (c *Client) Shifts(ctx context.Context) ([]Shift, error) {
	if len(c.cfg.Shifts) == 0 {
		return nil, ErrNoShifts
	}
	var out struct {
		Results []Shift `json:"_results"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL()+"/shifts", c.cfg.APIToken, nil, "shifts", &out); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(c.cfg.Shifts))
	for _, name := range c.cfg.Shifts {
		wanted[name] = true
	}
	var shifts []Shift
	for _, s := range out.Results {
		if wanted[s.Name] {
			shifts = append(shifts, s)
		}
	}
	return shifts, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, bearer string, body any, operation string, out any) error {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("front: marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("front: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveVendorCall(vendorName, operation, 0, started)
		return fmt.Errorf("front: %s request: %w", operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveVendorCall(vendorName, operation, resp.StatusCode, started)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("front: read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Str("operation", operation).Int("status", resp.StatusCode).Msg("front request failed")
		return fmt.Errorf("front: %s error (%d): %s", operation, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("front: parse %s response: %w", operation, err)
	}
	return nil
}
