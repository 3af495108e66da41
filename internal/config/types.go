package config

import "github.com/soyeahso/handoff/internal/domain"

// Config is the root configuration for the handoff relay server.
type Config struct {
	Server       ServerConfig       `yaml:"server,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	PubSub       PubSubConfig       `yaml:"pubsub,omitempty"`
	Token        TokenConfig        `yaml:"token,omitempty"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit,omitempty"`
	Availability AvailabilityConfig `yaml:"availability,omitempty"`
	Agents       []AgentConfig      `yaml:"agents,omitempty"`
}

// ServerConfig controls the HTTP relay server.
type ServerConfig struct {
	Port             int      `yaml:"port,omitempty"`
	Bind             string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost   string   `yaml:"customBindHost,omitempty"`
	PublicURL        string   `yaml:"publicUrl,omitempty"`
	AllowedOrigins   []string `yaml:"allowedOrigins,omitempty"`
	MaxStreamSeconds int      `yaml:"maxStreamSeconds,omitempty"`
	KeepAliveSeconds int      `yaml:"keepAliveSeconds,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	MaxSizeMB    int    `yaml:"maxSizeMb,omitempty"`
	MaxBackups   int    `yaml:"maxBackups,omitempty"`
}

// StoreConfig selects the handoff session registry backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "postgres"
	DSN    string `yaml:"dsn,omitempty"`
}

// PubSubConfig selects the broker that carries webhook events to streams.
type PubSubConfig struct {
	Driver string `yaml:"driver,omitempty"` // "memory" | "redis"
	URL    string `yaml:"url,omitempty"`
}

// TokenConfig configures the per-session handoff bearer token.
type TokenConfig struct {
	Secret     string `yaml:"secret,omitempty"`
	TTLMinutes int    `yaml:"ttlMinutes,omitempty"`
}

// RateLimitConfig bounds POST bursts and failed token attempts per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute,omitempty"`
	Burst             int `yaml:"burst,omitempty"`
	MaxAuthFailures   int `yaml:"maxAuthFailures,omitempty"`
	LockoutSeconds    int `yaml:"lockoutSeconds,omitempty"`
}

// AvailabilityConfig controls caching of vendor availability checks.
type AvailabilityConfig struct {
	CacheSeconds   int `yaml:"cacheSeconds,omitempty"`
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

// AgentConfig is one embeddable AI agent and its live-agent escalation target.
type AgentConfig struct {
	ID             string        `yaml:"id"`
	OrganizationID string        `yaml:"organizationId"`
	IdentitySecret string        `yaml:"identitySecret,omitempty"`
	Handoff        HandoffConfig `yaml:"handoff,omitempty"`
}

// CustomField is a pre-chat field collected from the user before escalation.
type CustomField struct {
	Name     string `yaml:"name" json:"name"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// HandoffConfig is the server-trusted vendor configuration. It carries
// secrets and is never sent to clients; see ClientSafe.
type HandoffConfig struct {
	Type                   domain.HandoffType `yaml:"type,omitempty"`
	ConnectingMessage      string             `yaml:"connectingMessage,omitempty"`
	EndedMessage           string             `yaml:"endedMessage,omitempty"`
	UnavailableMessage     string             `yaml:"unavailableMessage,omitempty"`
	TerminatingMessageText string             `yaml:"terminatingMessageText,omitempty"`
	CustomFields           []CustomField      `yaml:"customFields,omitempty"`
	AvailabilityCheck      bool               `yaml:"availabilityCheck,omitempty"`

	Salesforce          *SalesforceConfig          `yaml:"salesforce,omitempty"`
	SalesforceMessaging *SalesforceMessagingConfig `yaml:"salesforceMessaging,omitempty"`
	Zendesk             *ZendeskConfig             `yaml:"zendesk,omitempty"`
	Front               *FrontConfig               `yaml:"front,omitempty"`
}

// SalesforceConfig configures a LiveAgent (Embedded Chat) deployment.
type SalesforceConfig struct {
	// BaseURL is the LiveAgent REST root, e.g. https://d.la1-c2.salesforceliveagent.com/chat/rest
	BaseURL           string `yaml:"baseUrl"`
	APIVersion        string `yaml:"apiVersion,omitempty"`
	OrganizationID    string `yaml:"organizationId"`
	DeploymentID      string `yaml:"deploymentId"`
	ChatButtonID      string `yaml:"chatButtonId"`
	VisitorName       string `yaml:"visitorName,omitempty"`
	SubjectPromptText string `yaml:"subjectPromptText,omitempty"`
}

// SalesforceMessagingConfig configures Messaging for In-App and Web.
type SalesforceMessagingConfig struct {
	// BaseURL is the SCRT URL of the embedded service deployment.
	BaseURL             string `yaml:"baseUrl"`
	OrganizationID      string `yaml:"organizationId"`
	DeploymentName      string `yaml:"deploymentName"`
	CapabilitiesVersion string `yaml:"capabilitiesVersion,omitempty"`
	Platform            string `yaml:"platform,omitempty"`
}

// ZendeskConfig configures a Sunshine Conversations app and its Zendesk account.
type ZendeskConfig struct {
	AppID            string `yaml:"appId"`
	KeyID            string `yaml:"keyId"`
	Secret           string `yaml:"secret"`
	Subdomain        string `yaml:"subdomain"`
	WebhookSecret    string `yaml:"webhookSecret,omitempty"`
	SwitchboardGroup string `yaml:"switchboardGroup,omitempty"`
	BotIntegrationID string `yaml:"botIntegrationId,omitempty"`
	// APIBaseURL overrides https://{subdomain}.zendesk.com/sc
	APIBaseURL string `yaml:"apiBaseUrl,omitempty"`
	// SupportBaseURL overrides https://{subdomain}.zendesk.com/api/v2
	SupportBaseURL            string `yaml:"supportBaseUrl,omitempty"`
	AvailabilityCheckAPIEmail string `yaml:"availabilityCheckApiEmail,omitempty"`
	AvailabilityCheckAPIToken string `yaml:"availabilityCheckApiToken,omitempty"`
}

// FrontConfig configures a Front application channel.
type FrontConfig struct {
	AppID     string `yaml:"appId"`
	AppSecret string `yaml:"appSecret"`
	ChannelID string `yaml:"channelId"`
	// APIToken is a core API token used for the shifts availability check.
	APIToken string   `yaml:"apiToken,omitempty"`
	Shifts   []string `yaml:"shifts,omitempty"`
	// BaseURL overrides https://api2.frontapp.com
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// ClientSafeHandoffConfig is the subset of HandoffConfig served to clients.
type ClientSafeHandoffConfig struct {
	Type                   domain.HandoffType `json:"type"`
	ConnectingMessage      string             `json:"connectingMessage,omitempty"`
	EndedMessage           string             `json:"endedMessage,omitempty"`
	UnavailableMessage     string             `json:"unavailableMessage,omitempty"`
	TerminatingMessageText string             `json:"terminatingMessageText,omitempty"`
	CustomFields           []CustomField      `json:"customFields,omitempty"`
	AvailabilityCheck      bool               `json:"availabilityCheck"`
}
