package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
// Zero values fall back to the defaults documented on each section.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Poller     PollerConfig     `json:"poller"`
	Runner     RunnerConfig     `json:"runner"`
	Jobs       JobsConfig       `json:"jobs"`
	Redis      RedisConfig      `json:"redis,omitempty"`
	Providers  ProvidersConfig  `json:"providers"`
	Telegram   TelegramConfig   `json:"telegram,omitempty"`
	Publish    PublishConfig    `json:"publish"`
	Notifier   NotifierConfig   `json:"notifier,omitempty"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the item/content store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./contentpilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // sqlite (default) | memory
	Path        string `json:"path"`                   // sqlite file path
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

// DispatcherConfig controls the scheduled publishing loop.
//
// Defaults:
//   - tick: "1m"
//   - batch_size: 10
//   - retry_delay: "5m"
//   - max_attempts: 3 (applied to items created without an explicit value)
//   - stale_after: "15m"
//   - history_size: 100
type DispatcherConfig struct {
	Enabled     bool   `json:"enabled"`
	Tick        string `json:"tick,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	RetryDelay  string `json:"retry_delay,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	StaleAfter  string `json:"stale_after,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	// Timezone for cron expressions of the trigger service (default UTC).
	Timezone string `json:"timezone,omitempty"`
}

// PollerConfig controls long-running job polling. Defaults: interval "5s", max_attempts 120.
type PollerConfig struct {
	Interval      string `json:"interval,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	SubmitRetries int    `json:"submit_retries,omitempty"` // default 1
}

// RunnerConfig controls the parallel task runner. Default task_timeout "5m".
type RunnerConfig struct {
	TaskTimeout string `json:"task_timeout,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

// JobsConfig selects where in-flight job handles are kept.
type JobsConfig struct {
	Registry  string `json:"registry,omitempty"`   // memory (default) | redis
	TTL       string `json:"ttl,omitempty"`        // default "24h"
	KeyPrefix string `json:"key_prefix,omitempty"` // default "contentpilot:job:"
}

type RedisConfig struct {
	Addrs    []string `json:"addrs,omitempty"`
	Password string   `json:"password,omitempty"` // do not log
	DB       int      `json:"db,omitempty"`
}

// ProvidersConfig lists the external AI backends. An endpoint with an empty
// base_url is treated as not configured.
type ProvidersConfig struct {
	Script ProviderEndpoint `json:"script"`
	Voice  ProviderEndpoint `json:"voice"`
	Video  ProviderEndpoint `json:"video"`
	Render ProviderEndpoint `json:"render,omitempty"`
}

type ProviderEndpoint struct {
	BaseURL    string  `json:"base_url"`
	APIKey     string  `json:"api_key,omitempty"` // do not log
	Model      string  `json:"model,omitempty"`
	Timeout    string  `json:"timeout,omitempty"` // default "60s"
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	MaxRetries int     `json:"max_retries,omitempty"` // default 3
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"` // do not log
	// ChannelID is the chat content is published to.
	ChannelID int64 `json:"channel_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// PublishConfig routes content types to publishers: telegram, webhook or
// dryrun (log only). Content types without a route fail permanently.
//
// Example:
//
//	"publish": { "routes": { "post": "telegram", "reel": "webhook" } }
type PublishConfig struct {
	Routes  map[string]string `json:"routes,omitempty"`
	Webhook WebhookConfig     `json:"webhook,omitempty"`
}

type WebhookConfig struct {
	URL     string `json:"url,omitempty"`
	Secret  string `json:"secret,omitempty"` // do not log
	Timeout string `json:"timeout,omitempty"`
}

// NotifierConfig controls failure alerts. Defaults: rate_per_sec 1, dedup_window "10m".
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	ChatID      int64  `json:"chat_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// OpsConfig controls the ops HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:9090"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"; "-" disables pprof
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info", Console: true},
		Storage:    StorageConfig{Driver: "sqlite", Path: "./contentpilot.db"},
		Dispatcher: DispatcherConfig{Enabled: true},
		Jobs:       JobsConfig{Registry: "memory"},
	}
}
