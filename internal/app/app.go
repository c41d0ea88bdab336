package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"contentpilot/internal/config"
	"contentpilot/internal/content"
	"contentpilot/internal/dispatch"
	"contentpilot/internal/eventbus"
	"contentpilot/internal/jobpoll"
	"contentpilot/internal/metrics"
	"contentpilot/internal/notifier"
	"contentpilot/internal/observability/ops"
	"contentpilot/internal/providers"
	"contentpilot/internal/publish"
	"contentpilot/internal/runtime/supervisor"
	"contentpilot/internal/schedule"
	"contentpilot/internal/storage"
	"contentpilot/internal/trigger"
	"contentpilot/internal/workflow"
	logx "contentpilot/pkg/logx"
)

const tickSchedule = "dispatch.tick"

// Version is stamped into build_info.
var Version = "dev"

type App struct {
	cfgm *config.ConfigManager

	mu sync.RWMutex
	rt config.Runtime

	sup *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics
	redis   goredis.UniversalClient

	dispatcher *dispatch.Dispatcher
	trigger    *trigger.Service
	jobs       jobpoll.Registry
	executors  map[string]*providers.Executor
	orch       *workflow.Orchestrator
	notif      *notifier.Service
	ops        *ops.Service
}

type Option func(*options)

type options struct {
	offlineBot bool
}

// WithOfflineBot skips the Telegram getMe check (one-shot commands, tests).
func WithOfflineBot() Option { return func(o *options) { o.offlineBot = true } }

// New loads the config and builds every component. Nothing runs until Start;
// one-shot commands use the accessors directly and then call Stop.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(logConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		rt:      rt,
		logs:    logSvc,
		log:     root.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
		metrics: metrics.New(Version),
	}
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	st, err := storage.Open(storageConfig(rt), root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = st

	fail := func(err error) (*App, error) {
		_ = a.close()
		return nil, err
	}

	var bot *tele.Bot
	if needsTelegram(cfg, rt) {
		if bot, err = publish.NewTelegramBot(cfg.Telegram.Token, rt.TelegramPoll, o.offlineBot); err != nil {
			return fail(err)
		}
	}

	a.dispatcher, err = dispatch.New(dispatchConfig(rt), dispatch.Deps{
		Items:     st,
		Contents:  st,
		Publisher: buildPublishers(cfg, rt, bot, root),
		Permanent: publish.IsPermanent,
		Bus:       a.bus,
		Metrics:   a.metrics,
		Log:       root.With(logx.String("comp", "dispatch")),
	})
	if err != nil {
		return fail(err)
	}
	a.trigger = trigger.New(trigger.Config{Location: rt.TriggerTZ}, root.With(logx.String("comp", "trigger")))

	if a.jobs, a.redis, err = buildJobRegistry(ctx, cfg, rt); err != nil {
		return fail(err)
	}
	if a.orch, err = a.buildOrchestrator(rt, a.jobs); err != nil {
		return fail(err)
	}

	var sender notifier.Sender
	if bot != nil {
		sender = notifier.TelegramSender{API: bot}
	}
	a.notif = notifier.New(notifierConfig(cfg, rt), sender, root.With(logx.String("comp", "notifier")), a.bus, st, a.metrics)
	a.ops = ops.New(opsConfig(cfg, rt), a.Health, a.metrics.Handler(), root)
	return a, nil
}

func (a *App) Log() logx.Logger                     { return a.log }
func (a *App) Store() storage.Store                 { return a.store }
func (a *App) Dispatcher() *dispatch.Dispatcher     { return a.dispatcher }
func (a *App) Orchestrator() *workflow.Orchestrator { return a.orch }
func (a *App) Bus() eventbus.Bus                    { return a.bus }

func (a *App) Runtime() config.Runtime {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rt
}

// Schedule validates that the content exists and stores a new pending item,
// applying the configured default max attempts.
func (a *App) Schedule(ctx context.Context, it schedule.Item) (schedule.Item, error) {
	c, err := a.store.FindContent(ctx, it.ContentID)
	if err != nil {
		return schedule.Item{}, err
	}
	if it.ContentType == "" {
		it.ContentType = c.Type
	}
	if it.ContentType != c.Type {
		return schedule.Item{}, errors.Newf("content %s is a %s, not a %s", c.ID, c.Type, it.ContentType)
	}
	if it.MaxAttempts <= 0 {
		it.MaxAttempts = a.Runtime().MaxAttempts
	}
	it.Status = ""
	it.Attempts = 0
	created, err := a.store.CreateItem(ctx, it)
	if err != nil {
		return schedule.Item{}, err
	}
	a.log.Info("item scheduled",
		logx.String("item", created.ID),
		logx.String("content", created.ContentID),
		logx.Time("at", created.ScheduledFor),
	)
	return created, nil
}

// CreateContent stores a draft, for the CLI and the reel command.
func (a *App) CreateContent(ctx context.Context, c content.Content) (content.Content, error) {
	return a.store.CreateContent(ctx, c)
}

// ReopenLogs reopens the log file after rotation.
func (a *App) ReopenLogs() error { return a.logs.Reopen() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	rt := a.Runtime()

	if rt.DispatchActive {
		if err := a.startDispatch(run); err != nil {
			return err
		}
	} else {
		a.log.Warn("dispatcher disabled by config")
	}

	if a.orch != nil {
		a.sup.Go0("workflow.resume", func(c context.Context) {
			rep, err := a.orch.Resume(c)
			if err != nil {
				a.log.Warn("resume in-flight jobs failed", logx.Err(err))
				return
			}
			if rep.Summary.Total > 0 {
				a.log.Info("resumed in-flight jobs",
					logx.Int("total", rep.Summary.Total),
					logx.Int("failed", rep.Summary.Failed),
				)
			}
		})
	}

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	a.ops.Start(run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startReload(run)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("dispatch", rt.DispatchActive),
		logx.Bool("reels", a.orch != nil),
		logx.String("jobs", rt.JobRegistry),
	)
	return nil
}

func (a *App) startDispatch(ctx context.Context) error {
	rt := a.Runtime()
	if n, err := a.dispatcher.RecoverStale(ctx, rt.StaleAfter); err != nil {
		a.log.Warn("stale recovery incomplete", logx.Int("recovered", n), logx.Err(err))
	}
	if err := a.scheduleTick(rt.Tick); err != nil {
		return err
	}
	a.trigger.Start(ctx)
	return nil
}

func (a *App) scheduleTick(every time.Duration) error {
	return a.trigger.AddSchedule(tickSchedule, "every:"+every.String(), 0, func(ctx context.Context) error {
		return a.dispatcher.Tick(ctx).Err
	})
}

// RunTick runs one dispatch pass outside the trigger, for `contentpilot tick`.
func (a *App) RunTick(ctx context.Context) dispatch.TickReport {
	if n, err := a.dispatcher.RecoverStale(ctx, a.Runtime().StaleAfter); err != nil {
		a.log.Warn("stale recovery incomplete", logx.Int("recovered", n), logx.Err(err))
	}
	return a.dispatcher.Tick(ctx)
}

// Stop shuts services down in reverse start order. It is also the cleanup
// path for one-shot commands that never called Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The trigger waits for an in-flight tick before the run context is cancelled.
	step("trigger", 5*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	a.sup.Cancel()
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("close", time.Second, func(context.Context) error { return a.close() })

	a.log.Info("stopped")
	return nil
}

func (a *App) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
