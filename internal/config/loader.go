package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Token.Secret = expandEnvVars(cfg.Token.Secret)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	cfg.PubSub.URL = expandEnvVars(cfg.PubSub.URL)
	for i := range cfg.Agents {
		agent := &cfg.Agents[i]
		agent.IdentitySecret = expandEnvVars(agent.IdentitySecret)
		h := &agent.Handoff
		if h.Zendesk != nil {
			h.Zendesk.KeyID = expandEnvVars(h.Zendesk.KeyID)
			h.Zendesk.Secret = expandEnvVars(h.Zendesk.Secret)
			h.Zendesk.WebhookSecret = expandEnvVars(h.Zendesk.WebhookSecret)
			h.Zendesk.AvailabilityCheckAPIToken = expandEnvVars(h.Zendesk.AvailabilityCheckAPIToken)
		}
		if h.Front != nil {
			h.Front.AppSecret = expandEnvVars(h.Front.AppSecret)
			h.Front.APIToken = expandEnvVars(h.Front.APIToken)
		}
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Server.MaxStreamSeconds == 0 {
		cfg.Server.MaxStreamSeconds = d.Server.MaxStreamSeconds
	}
	if cfg.Server.KeepAliveSeconds == 0 {
		cfg.Server.KeepAliveSeconds = d.Server.KeepAliveSeconds
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.PubSub.Driver == "" {
		cfg.PubSub.Driver = d.PubSub.Driver
	}
	if cfg.Token.TTLMinutes == 0 {
		cfg.Token.TTLMinutes = d.Token.TTLMinutes
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = d.RateLimit.RequestsPerMinute
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.MaxAuthFailures == 0 {
		cfg.RateLimit.MaxAuthFailures = d.RateLimit.MaxAuthFailures
	}
	if cfg.RateLimit.LockoutSeconds == 0 {
		cfg.RateLimit.LockoutSeconds = d.RateLimit.LockoutSeconds
	}
	if cfg.Availability.CacheSeconds == 0 {
		cfg.Availability.CacheSeconds = d.Availability.CacheSeconds
	}
	if cfg.Availability.TimeoutSeconds == 0 {
		cfg.Availability.TimeoutSeconds = d.Availability.TimeoutSeconds
	}
	for i := range cfg.Agents {
		if sf := cfg.Agents[i].Handoff.Salesforce; sf != nil && sf.APIVersion == "" {
			sf.APIVersion = "59"
		}
		if m := cfg.Agents[i].Handoff.SalesforceMessaging; m != nil {
			if m.CapabilitiesVersion == "" {
				m.CapabilitiesVersion = "1"
			}
			if m.Platform == "" {
				m.Platform = "Web"
			}
		}
		if z := cfg.Agents[i].Handoff.Zendesk; z != nil && z.SwitchboardGroup == "" {
			z.SwitchboardGroup = "zd-agentWorkspace"
		}
	}
}

// applyEnvOverrides reads HANDOFF_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HANDOFF_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HANDOFF_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("HANDOFF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HANDOFF_TOKEN_SECRET"); v != "" {
		cfg.Token.Secret = v
	}
	if v := os.Getenv("HANDOFF_REDIS_URL"); v != "" {
		cfg.PubSub.Driver = "redis"
		cfg.PubSub.URL = v
	}
	if v := os.Getenv("HANDOFF_DATABASE_DSN"); v != "" {
		cfg.Store.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Store.Driver = "postgres"
		}
	}
}
