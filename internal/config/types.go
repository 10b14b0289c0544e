package config

// Config is the root configuration document (JSON or YAML on disk).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Contacts ContactsConfig `json:"contacts"`

	// DeliveryLog controls the persistent per-attempt audit trail.
	// If omitted, attempts are only visible through logs and in-memory stats.
	DeliveryLog *DeliveryLogConfig `json:"delivery_log,omitempty"`

	// Engine controls the async dispatch engine (queue + worker pool).
	Engine *EngineConfig `json:"engine,omitempty"`

	Channels ChannelsConfig `json:"channels"`

	// Strategies maps urgency names (CRITICAL/HIGH/NORMAL) to channel walks.
	// If omitted, the stock escalation ladder is used.
	Strategies map[string]StrategyConfig `json:"strategies,omitempty"`

	Campaigns *CampaignsConfig `json:"campaigns,omitempty"`

	// Ops controls the operational HTTP server (health, stats, pprof).
	Ops *OpsConfig `json:"ops,omitempty"`
}

// OpsConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8790").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8790"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ContactsConfig points at the recipient address book file.
type ContactsConfig struct {
	Path string `json:"path"`
}

// DeliveryLogConfig controls the optional persistence layer.
//
// Example:
//
//	"delivery_log": { "driver": "sqlite", "path": "./courier.db" }
type DeliveryLogConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls the async dispatch engine.
//
// Enabled is a pointer so an omitted field defaults to true without
// clobbering an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - workers: 4
//   - queue_size: 256
//   - history_size: 200
type EngineConfig struct {
	Enabled     *bool `json:"enabled,omitempty"`
	Workers     int   `json:"workers,omitempty"`
	QueueSize   int   `json:"queue_size,omitempty"`
	HistorySize int   `json:"history_size,omitempty"`
}

// ChannelsConfig holds per-channel provider settings. A nil section means
// the channel is not configured; strategies referencing it are rejected at
// startup.
type ChannelsConfig struct {
	Telegram *TelegramChannel `json:"telegram,omitempty"`
	Bot      *BotChannel      `json:"bot,omitempty"`
	SMS      *SMSChannel      `json:"sms,omitempty"`
	Email    *EmailChannel    `json:"email,omitempty"`
}

type TelegramChannel struct {
	Token      string `json:"token"`
	ParseMode  string `json:"parse_mode,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type BotChannel struct {
	URL        string `json:"url"`
	Token      string `json:"token,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SMSChannel struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key,omitempty"`
	Sender     string `json:"sender,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type EmailChannel struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
	StartTLS bool   `json:"starttls,omitempty"`
}

// StrategyConfig is one urgency's channel walk.
type StrategyConfig struct {
	Channels       []string `json:"channels"`
	AttemptTimeout string   `json:"attempt_timeout,omitempty"`
	FallbackDelay  string   `json:"fallback_delay,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
}

// CampaignsConfig holds the recurring scheduled dispatches.
type CampaignsConfig struct {
	Enabled  bool          `json:"enabled"`
	Timezone string        `json:"timezone,omitempty"`
	Items    []CampaignDef `json:"items,omitempty"`
}

type CampaignDef struct {
	Name       string   `json:"name"`
	Schedule   string   `json:"schedule"`
	Urgency    string   `json:"urgency,omitempty"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body"`
}
