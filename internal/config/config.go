package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:             18790,
			Bind:             "loopback",
			MaxStreamSeconds: 900,
			KeepAliveSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		PubSub: PubSubConfig{
			Driver: "memory",
		},
		Token: TokenConfig{
			TTLMinutes: 720,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             20,
			MaxAuthFailures:   10,
			LockoutSeconds:    300,
		},
		Availability: AvailabilityConfig{
			CacheSeconds:   30,
			TimeoutSeconds: 5,
		},
	}
}

// Agent returns the agent with the given id.
func (c *Config) Agent(id string) (*AgentConfig, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// MaxStream is the longest a relay stream is held open.
func (s ServerConfig) MaxStream() time.Duration {
	return time.Duration(s.MaxStreamSeconds) * time.Second
}

// KeepAlive is the interval between SSE keep-alive comments.
func (s ServerConfig) KeepAlive() time.Duration {
	return time.Duration(s.KeepAliveSeconds) * time.Second
}

// TTL is the lifetime of an issued handoff token.
func (t TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLMinutes) * time.Minute
}

// ClientSafe projects the configuration onto the fields a browser may see.
func (h HandoffConfig) ClientSafe() ClientSafeHandoffConfig {
	fields := make([]CustomField, len(h.CustomFields))
	copy(fields, h.CustomFields)
	return ClientSafeHandoffConfig{
		Type:                   h.Type,
		ConnectingMessage:      h.ConnectingMessage,
		EndedMessage:           h.EndedMessage,
		UnavailableMessage:     h.UnavailableMessage,
		TerminatingMessageText: h.TerminatingMessageText,
		CustomFields:           fields,
		AvailabilityCheck:      h.AvailabilityCheck,
	}
}
