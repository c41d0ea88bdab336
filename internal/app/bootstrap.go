package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"contentpilot/internal/config"
	"contentpilot/internal/content"
	"contentpilot/internal/dispatch"
	"contentpilot/internal/jobpoll"
	"contentpilot/internal/notifier"
	"contentpilot/internal/observability/ops"
	"contentpilot/internal/parallel"
	"contentpilot/internal/providers"
	"contentpilot/internal/publish"
	"contentpilot/internal/storage"
	"contentpilot/internal/workflow"
	logx "contentpilot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		Service: "contentpilot",
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(rt config.Runtime) storage.Config {
	return storage.Config{Driver: rt.StorageDriver, Path: rt.StoragePath, BusyTimeout: rt.BusyTimeout}
}

func dispatchConfig(rt config.Runtime) dispatch.Config {
	return dispatch.Config{BatchSize: rt.BatchSize, RetryDelay: rt.RetryDelay, HistorySize: rt.HistorySize}
}

func notifierConfig(cfg *config.Config, rt config.Runtime) notifier.Config {
	return notifier.Config{
		Enabled:       cfg.Notifier.Enabled,
		ChatID:        cfg.Notifier.ChatID,
		RatePerSec:    rt.NotifyRate,
		RetryMax:      3,
		RetryBase:     time.Second,
		RetryMaxDelay: 30 * time.Second,
		DedupWindow:   rt.NotifyDedup,
		PersistDedup:  true,
	}
}

func opsConfig(cfg *config.Config, rt config.Runtime) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		PprofPrefix:   cfg.Ops.PprofPrefix,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   rt.OpsRead,
		WriteTimeout:  rt.OpsWrite,
		IdleTimeout:   rt.OpsIdle,
	}
}

// needsTelegram reports whether any component posts through the bot.
func needsTelegram(cfg *config.Config, rt config.Runtime) bool {
	if cfg.Notifier.Enabled {
		return true
	}
	for _, pub := range rt.Routes {
		if pub == "telegram" {
			return true
		}
	}
	return false
}

func buildPublishers(cfg *config.Config, rt config.Runtime, bot *tele.Bot, log logx.Logger) *publish.Registry {
	reg := publish.NewRegistry()
	var (
		tg *publish.Telegram
		wh *publish.Webhook
	)
	for ct, name := range rt.Routes {
		var p publish.Publisher
		switch name {
		case "telegram":
			if tg == nil {
				tg = publish.NewTelegram(bot, cfg.Telegram.ChannelID, log.With(logx.String("publisher", "telegram")))
			}
			p = tg
		case "webhook":
			if wh == nil {
				wh = publish.NewWebhook(cfg.Publish.Webhook.URL, cfg.Publish.Webhook.Secret, rt.WebhookTimeout, log.With(logx.String("publisher", "webhook")))
			}
			p = wh
		case "dryrun":
			p = publish.DryRun{Log: log.With(logx.String("publisher", "dryrun"))}
		}
		reg.Register(content.Type(ct), p)
	}
	return reg
}

func buildJobRegistry(ctx context.Context, cfg *config.Config, rt config.Runtime) (jobpoll.Registry, goredis.UniversalClient, error) {
	if rt.JobRegistry != "redis" {
		return jobpoll.NewMemoryRegistry(rt.JobTTL), nil, nil
	}
	client, err := jobpoll.NewRedisClient(ctx, jobpoll.RedisConfig{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "job registry")
	}
	return jobpoll.NewRedisRegistry(client, rt.JobPrefix, rt.JobTTL), client, nil
}

// buildOrchestrator returns nil when the script, voice or video backend is
// missing; the reel pipeline is then unavailable.
func (a *App) buildOrchestrator(rt config.Runtime, reg jobpoll.Registry) (*workflow.Orchestrator, error) {
	exec := map[string]*providers.Executor{}
	for name, ep := range rt.Providers {
		exec[name] = providers.NewExecutor(ep, a.metrics, a.log.With(logx.String("comp", "provider"), logx.String("provider", name)))
	}
	a.executors = exec
	for _, name := range []string{"script", "voice", "video"} {
		if !exec[name].Configured() {
			a.log.Info("reel pipeline disabled: provider not configured", logx.String("provider", name))
			return nil, nil
		}
	}

	poller := jobpoll.NewPoller(jobpoll.Config{
		Options:       jobpoll.Options{PollInterval: rt.PollInterval, MaxAttempts: rt.PollMaxAttempts},
		SubmitRetries: rt.SubmitRetries,
	}, reg, a.metrics, a.log.With(logx.String("comp", "jobpoll")))
	runner := parallel.NewRunner(parallel.Config{TaskTimeout: rt.TaskTimeout}, a.metrics, a.log.With(logx.String("comp", "runner")))

	d := workflow.Deps{
		Script:  providers.NewScriptClient(exec["script"], rt.Providers["script"].Model),
		Voice:   providers.NewVoiceClient(exec["voice"], rt.Providers["voice"].Model),
		Video:   providers.NewVideoClient(exec["video"], rt.Providers["video"].Model),
		Poller:  poller,
		Runner:  runner,
		Bus:     a.bus,
		Metrics: a.metrics,
		Log:     a.log.With(logx.String("comp", "workflow")),
	}
	if exec["render"].Configured() {
		d.Render = providers.NewRenderClient(exec["render"])
	}
	return workflow.New(d)
}
