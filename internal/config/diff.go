package config

import (
	"reflect"
	"strings"

	logx "contentpilot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (tokens, api keys, passwords) are
// only ever reported as "set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Bool("dispatcher.enabled", newCfg.Dispatcher.Enabled),
			logx.String("dispatcher.tick", strings.TrimSpace(newCfg.Dispatcher.Tick)),
			logx.Int("dispatcher.batch_size", newCfg.Dispatcher.BatchSize),
			logx.String("dispatcher.retry_delay", strings.TrimSpace(newCfg.Dispatcher.RetryDelay)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
	}
	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
	}
	if oldCfg.Jobs != newCfg.Jobs || !reflect.DeepEqual(oldCfg.Redis, newCfg.Redis) {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.String("jobs.registry", newCfg.Jobs.Registry),
			logx.Bool("redis.password_set", newCfg.Redis.Password != ""),
		)
	}
	if oldCfg.Providers != newCfg.Providers {
		changed = append(changed, "providers")
		for name, ep := range map[string]ProviderEndpoint{
			"script": newCfg.Providers.Script,
			"voice":  newCfg.Providers.Voice,
			"video":  newCfg.Providers.Video,
			"render": newCfg.Providers.Render,
		} {
			attrs = append(attrs, logx.Bool("providers."+name+".api_key_set", ep.APIKey != ""))
		}
	}
	if oldCfg.Telegram != newCfg.Telegram || !reflect.DeepEqual(oldCfg.Publish, newCfg.Publish) {
		changed = append(changed, "publish")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Int("publish.routes", len(newCfg.Publish.Routes)),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return changed, attrs
}

// RequiresRestart reports whether a change touches sections that are only
// read at startup (storage, job registry, providers, publishers).
func RequiresRestart(sections []string) bool {
	for _, s := range sections {
		switch s {
		case "storage", "jobs", "providers", "publish":
			return true
		}
	}
	return false
}
