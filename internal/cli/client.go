package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/version"
)

// relayClient calls the unauthenticated discovery endpoints of a relay.
type relayClient struct {
	base string
	http *http.Client
}

func newRelayClient(base string) *relayClient {
	return &relayClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// availability mirrors the relay's availability response.
type availability struct {
	Available bool               `json:"available"`
	Type      domain.HandoffType `json:"type"`
}

func (c *relayClient) clientConfig(ctx context.Context, agentID string) (config.ClientSafeHandoffConfig, error) {
	var out config.ClientSafeHandoffConfig
	err := c.get(ctx, "/api/handoff/config", agentID, &out)
	return out, err
}

func (c *relayClient) availability(ctx context.Context, agentID string) (availability, error) {
	var out availability
	err := c.get(ctx, "/api/handoff/availability", agentID, &out)
	return out, err
}

func (c *relayClient) health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.get(ctx, "/health", "", &out)
	return out.Status, err
}

func (c *relayClient) get(ctx context.Context, path, agentID string, out any) error {
	u := c.base + path
	if agentID != "" {
		u += "?agentId=" + url.QueryEscape(agentID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("GET %s: %d: %s", path, resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("GET %s: %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// defaultServerURL points at the local relay described by the config file.
func defaultServerURL() string {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		cfg = config.Defaults()
	}
	if cfg.Server.PublicURL != "" {
		return cfg.Server.PublicURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}
