package config

import (
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Runtime is the parsed, defaulted view of Config consumed by the app wiring.
type Runtime struct {
	StorageDriver string
	StoragePath   string
	BusyTimeout   time.Duration

	Tick           time.Duration
	BatchSize      int
	RetryDelay     time.Duration
	MaxAttempts    int
	StaleAfter     time.Duration
	HistorySize    int
	TriggerTZ      *time.Location
	DispatchActive bool

	PollInterval    time.Duration
	PollMaxAttempts int
	SubmitRetries   int

	TaskTimeout time.Duration
	RunnerBatch int

	JobRegistry string
	JobTTL      time.Duration
	JobPrefix   string

	Providers map[string]Endpoint

	TelegramPoll   time.Duration
	WebhookTimeout time.Duration
	Routes         map[string]string

	NotifyRate  int
	NotifyDedup time.Duration

	OpsRead  time.Duration
	OpsWrite time.Duration
	OpsIdle  time.Duration
}

// Endpoint is a resolved provider endpoint.
type Endpoint struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	MaxRetries int
}

func (e Endpoint) Configured() bool { return strings.TrimSpace(e.BaseURL) != "" }

// Resolve validates cfg and applies defaults.
func Resolve(cfg *Config) (Runtime, error) {
	if cfg == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt   Runtime
		errs []error
		err  error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, e := ParseDurationOrDefault(path, raw, def)
		if e != nil {
			errs = append(errs, e)
		}
		return d
	}

	rt.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if rt.StorageDriver == "" {
		rt.StorageDriver = "sqlite"
	}
	switch rt.StorageDriver {
	case "sqlite":
		rt.StoragePath = strings.TrimSpace(cfg.Storage.Path)
		if rt.StoragePath == "" {
			rt.StoragePath = "./contentpilot.db"
		}
	case "memory":
	default:
		errs = append(errs, errors.Newf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	rt.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	d := cfg.Dispatcher
	rt.DispatchActive = d.Enabled
	rt.Tick = dur("dispatcher.tick", d.Tick, time.Minute)
	rt.BatchSize = positiveOr(d.BatchSize, 10)
	rt.RetryDelay = dur("dispatcher.retry_delay", d.RetryDelay, 5*time.Minute)
	rt.MaxAttempts = positiveOr(d.MaxAttempts, 3)
	rt.StaleAfter = dur("dispatcher.stale_after", d.StaleAfter, 15*time.Minute)
	rt.HistorySize = positiveOr(d.HistorySize, 100)
	rt.TriggerTZ = time.UTC
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if rt.TriggerTZ, err = time.LoadLocation(tz); err != nil {
			errs = append(errs, errors.Wrapf(err, "dispatcher.timezone"))
			rt.TriggerTZ = time.UTC
		}
	}
	if d.BatchSize < 0 || d.MaxAttempts < 0 {
		errs = append(errs, errors.New("dispatcher: batch_size and max_attempts must be >= 0"))
	}

	rt.PollInterval = dur("poller.interval", cfg.Poller.Interval, 5*time.Second)
	rt.PollMaxAttempts = positiveOr(cfg.Poller.MaxAttempts, 120)
	rt.SubmitRetries = positiveOr(cfg.Poller.SubmitRetries, 1)

	rt.TaskTimeout = dur("runner.task_timeout", cfg.Runner.TaskTimeout, 5*time.Minute)
	rt.RunnerBatch = positiveOr(cfg.Runner.BatchSize, 4)

	rt.JobRegistry = strings.ToLower(strings.TrimSpace(cfg.Jobs.Registry))
	if rt.JobRegistry == "" {
		rt.JobRegistry = "memory"
	}
	switch rt.JobRegistry {
	case "memory":
	case "redis":
		if len(cfg.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("redis.addrs: required when jobs.registry=redis"))
		}
	default:
		errs = append(errs, errors.Newf("jobs.registry: unknown registry %q", cfg.Jobs.Registry))
	}
	rt.JobTTL = dur("jobs.ttl", cfg.Jobs.TTL, 24*time.Hour)
	rt.JobPrefix = cfg.Jobs.KeyPrefix
	if rt.JobPrefix == "" {
		rt.JobPrefix = "contentpilot:job:"
	}

	rt.Providers = map[string]Endpoint{}
	for name, ep := range map[string]ProviderEndpoint{
		"script": cfg.Providers.Script,
		"voice":  cfg.Providers.Voice,
		"video":  cfg.Providers.Video,
		"render": cfg.Providers.Render,
	} {
		rt.Providers[name] = Endpoint{
			Name:       name,
			BaseURL:    strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/"),
			APIKey:     ep.APIKey,
			Model:      ep.Model,
			Timeout:    dur("providers."+name+".timeout", ep.Timeout, 60*time.Second),
			RatePerSec: ep.RatePerSec,
			Burst:      positiveOr(ep.Burst, 1),
			MaxRetries: positiveOr(ep.MaxRetries, 3),
		}
	}

	rt.TelegramPoll = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	rt.WebhookTimeout = dur("publish.webhook.timeout", cfg.Publish.Webhook.Timeout, 15*time.Second)
	rt.Routes = map[string]string{}
	for ct, pub := range cfg.Publish.Routes {
		ct = strings.ToLower(strings.TrimSpace(ct))
		pub = strings.ToLower(strings.TrimSpace(pub))
		switch pub {
		case "telegram":
			if cfg.Telegram.Token == "" || cfg.Telegram.ChannelID == 0 {
				errs = append(errs, errors.Newf("publish.routes.%s: telegram requires telegram.token and telegram.channel_id", ct))
			}
		case "webhook":
			if strings.TrimSpace(cfg.Publish.Webhook.URL) == "" {
				errs = append(errs, errors.Newf("publish.routes.%s: webhook requires publish.webhook.url", ct))
			}
		case "dryrun":
		default:
			errs = append(errs, errors.Newf("publish.routes.%s: unknown publisher %q", ct, pub))
		}
		rt.Routes[ct] = pub
	}

	if cfg.Notifier.Enabled && (cfg.Telegram.Token == "" || cfg.Notifier.ChatID == 0) {
		errs = append(errs, errors.New("notifier: requires telegram.token and notifier.chat_id"))
	}
	rt.NotifyRate = positiveOr(cfg.Notifier.RatePerSec, 1)
	rt.NotifyDedup = dur("notifier.dedup_window", cfg.Notifier.DedupWindow, 10*time.Minute)

	rt.OpsRead = dur("ops.read_timeout", cfg.Ops.ReadTimeout, 10*time.Second)
	rt.OpsWrite = dur("ops.write_timeout", cfg.Ops.WriteTimeout, 0)
	rt.OpsIdle = dur("ops.idle_timeout", cfg.Ops.IdleTimeout, 60*time.Second)
	if cfg.Ops.Enabled && cfg.Ops.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Ops.Addr); err != nil {
			errs = append(errs, errors.Wrapf(err, "ops.addr"))
		}
	}

	if len(errs) > 0 {
		return Runtime{}, errors.Join(errs...)
	}
	return rt, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
