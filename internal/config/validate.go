package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/handoff/internal/domain"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		add("server.bind", "must be one of %v, got %q", validBinds, cfg.Server.Bind)
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		add("server.customBindHost", "required when bind is custom")
	}
	if cfg.Server.MaxStreamSeconds < 0 {
		add("server.maxStreamSeconds", "must not be negative")
	}
	if cfg.Server.KeepAliveSeconds < 0 {
		add("server.keepAliveSeconds", "must not be negative")
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	// Backends
	validDrivers := []string{"sqlite", "postgres"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "required for postgres")
	}
	validBrokers := []string{"memory", "redis"}
	if cfg.PubSub.Driver != "" && !slices.Contains(validBrokers, cfg.PubSub.Driver) {
		add("pubsub.driver", "must be one of %v, got %q", validBrokers, cfg.PubSub.Driver)
	}
	if cfg.PubSub.Driver == "redis" && cfg.PubSub.URL == "" {
		add("pubsub.url", "required for redis")
	}

	if cfg.Token.TTLMinutes < 0 {
		add("token.ttlMinutes", "must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		add("rateLimit", "limits must not be negative")
	}

	if len(cfg.Agents) > 0 && cfg.Token.Secret == "" {
		add("token.secret", "required when agents are configured")
	}

	seen := map[string]bool{}
	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.ID == "" {
			add(prefix+".id", "id is required")
		} else if seen[agent.ID] {
			add(prefix+".id", "duplicate agent id %q", agent.ID)
		}
		seen[agent.ID] = true
		if agent.OrganizationID == "" {
			add(prefix+".organizationId", "organizationId is required")
		}
		issues = append(issues, validateHandoff(prefix+".handoff", &agent.Handoff)...)
	}

	return issues
}

func validateHandoff(prefix string, h *HandoffConfig) []ValidationIssue {
	var issues []ValidationIssue
	require := func(path, value string) {
		if value == "" {
			issues = append(issues, ValidationIssue{Path: prefix + "." + path, Message: "required"})
		}
	}

	switch h.Type {
	case "":
		// Handoff disabled for this agent.
	case domain.HandoffSalesforce:
		if h.Salesforce == nil {
			issues = append(issues, ValidationIssue{Path: prefix + ".salesforce", Message: "required for type salesforce"})
			break
		}
		require("salesforce.baseUrl", h.Salesforce.BaseURL)
		require("salesforce.organizationId", h.Salesforce.OrganizationID)
		require("salesforce.deploymentId", h.Salesforce.DeploymentID)
		require("salesforce.chatButtonId", h.Salesforce.ChatButtonID)
	case domain.HandoffSalesforceMessaging:
		if h.SalesforceMessaging == nil {
			issues = append(issues, ValidationIssue{Path: prefix + ".salesforceMessaging", Message: "required for type salesforce-messaging"})
			break
		}
		require("salesforceMessaging.baseUrl", h.SalesforceMessaging.BaseURL)
		require("salesforceMessaging.organizationId", h.SalesforceMessaging.OrganizationID)
		require("salesforceMessaging.deploymentName", h.SalesforceMessaging.DeploymentName)
	case domain.HandoffZendesk:
		if h.Zendesk == nil {
			issues = append(issues, ValidationIssue{Path: prefix + ".zendesk", Message: "required for type zendesk"})
			break
		}
		require("zendesk.appId", h.Zendesk.AppID)
		require("zendesk.keyId", h.Zendesk.KeyID)
		require("zendesk.secret", h.Zendesk.Secret)
		if h.Zendesk.APIBaseURL == "" || h.Zendesk.SupportBaseURL == "" {
			require("zendesk.subdomain", h.Zendesk.Subdomain)
		}
	case domain.HandoffFront:
		if h.Front == nil {
			issues = append(issues, ValidationIssue{Path: prefix + ".front", Message: "required for type front"})
			break
		}
		require("front.appId", h.Front.AppID)
		require("front.appSecret", h.Front.AppSecret)
		require("front.channelId", h.Front.ChannelID)
		if len(h.Front.Shifts) > 0 {
			require("front.apiToken", h.Front.APIToken)
		}
	default:
		issues = append(issues, ValidationIssue{
			Path:    prefix + ".type",
			Message: fmt.Sprintf("must be one of %v, got %q", domain.HandoffTypes, h.Type),
		})
	}

	for i, f := range h.CustomFields {
		if f.Name == "" {
			issues = append(issues, ValidationIssue{Path: fmt.Sprintf("%s.customFields[%d].name", prefix, i), Message: "required"})
		}
	}
	return issues
}
