// Package config handles configuration loading, saving, and schema definition.
package config

// Config is the top-level convoflow configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Debounce DebounceConfig `json:"debounce"`
	Reason   ReasonConfig   `json:"reason"`
	CRM      CRMConfig      `json:"crm"`
	Tracker  TrackerConfig  `json:"tracker"`
	Actions  ActionsConfig  `json:"actions"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds the webhook front-door settings.
type ServerConfig struct {
	Host                       string  `json:"host,omitempty"`
	Port                       int     `json:"port,omitempty"`
	AuthToken                  string  `json:"authToken,omitempty"` // Bearer token; empty disables auth
	RateLimitPerSec            float64 `json:"rateLimitPerSec,omitempty"`
	RateLimitBurst             int     `json:"rateLimitBurst,omitempty"`
	ShutdownGracePeriodSeconds int     `json:"shutdownGracePeriodSeconds,omitempty"`
}

// RedisConfig holds Delay Store connection settings.
type RedisConfig struct {
	URL      string `json:"url"` // redis://host:port
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// DebounceConfig controls trigger coalescing.
type DebounceConfig struct {
	WindowSeconds  int      `json:"windowSeconds,omitempty"`  // delay between last trigger and dispatch
	JitterSeconds  int      `json:"jitterSeconds,omitempty"`  // random extension added per write, 0 disables
	KeyPrefix      string   `json:"keyPrefix,omitempty"`      // Redis key namespace
	RequiredFields []string `json:"requiredFields,omitempty"` // identity fields a trigger must carry
}

// ReasonConfig holds reasoning-engine settings.
type ReasonConfig struct {
	APIKey              string `json:"apiKey,omitempty"`
	APIBase             string `json:"apiBase,omitempty"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds,omitempty"` // cadence between run status checks
	RunTimeoutSeconds   int    `json:"runTimeoutSeconds,omitempty"`   // upper bound on total wait
}

// CRMConfig holds CRM collaborator settings.
type CRMConfig struct {
	APIBase      string `json:"apiBase,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	LocationID   string `json:"locationId,omitempty"`
	MessageType  string `json:"messageType,omitempty"`  // channel type for outbound sends
	MessageLimit int    `json:"messageLimit,omitempty"` // page size when listing history
}

// TrackerConfig holds opportunity-store settings.
type TrackerConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseID  string `json:"baseId,omitempty"`
	TableID string `json:"tableId,omitempty"`
}

// ActionsConfig points at the action copy definitions.
type ActionsConfig struct {
	File       string `json:"file,omitempty"`       // path to actions.yaml
	FailureTag string `json:"failureTag,omitempty"` // tag applied when compensation runs
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `json:"level,omitempty"`
	Development bool   `json:"development,omitempty"`
}

// DefaultRequiredFields is the identity field set a trigger must carry
// unless the config narrows it.
var DefaultRequiredFields = []string{
	"contact_id",
	"conversation_id",
	"thread_id",
	"agent_id",
	"last_automated_message_id",
	"filter_tag",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                       "0.0.0.0",
			Port:                       18921,
			RateLimitPerSec:            5,
			RateLimitBurst:             10,
			ShutdownGracePeriodSeconds: 15,
		},
		Debounce: DebounceConfig{
			WindowSeconds:  30,
			KeyPrefix:      "debounce:",
			RequiredFields: DefaultRequiredFields,
		},
		Reason: ReasonConfig{
			APIBase:             "https://api.openai.com/v1",
			PollIntervalSeconds: 1,
			RunTimeoutSeconds:   120,
		},
		CRM: CRMConfig{
			APIBase:      "https://services.leadconnectorhq.com",
			MessageType:  "IG",
			MessageLimit: 50,
		},
		Actions: ActionsConfig{
			FailureTag: "bot failure",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
