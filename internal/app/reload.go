package app

import (
	"context"
	"strings"
	"time"

	"contentpilot/internal/config"
	logx "contentpilot/pkg/logx"
)

// startReload fans validated config changes out to the live components.
// Sections read only at startup are logged as requiring a restart.
func (a *App) startReload(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prevCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prevCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	rt, err := config.Resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if config.RequiresRestart(sections) {
		a.log.Warn("storage, jobs, providers or publish config changed; restart required for changes to take effect")
	}

	a.logs.Apply(logConfig(newCfg))

	a.mu.Lock()
	prev := a.rt
	// Startup-only fields stay as they were.
	rt.StorageDriver, rt.StoragePath, rt.BusyTimeout = prev.StorageDriver, prev.StoragePath, prev.BusyTimeout
	rt.JobRegistry, rt.JobTTL, rt.JobPrefix = prev.JobRegistry, prev.JobTTL, prev.JobPrefix
	rt.Providers, rt.Routes = prev.Providers, prev.Routes
	a.rt = rt
	a.mu.Unlock()

	a.dispatcher.UpdateConfig(dispatchConfig(rt))
	a.applyDispatchState(ctx, prev, rt)

	prevNotif := a.notif.Enabled()
	ncfg := notifierConfig(newCfg, rt)
	a.notif.Apply(ncfg)
	switch {
	case prevNotif && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prevNotif && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.ops.Reconfigure(ctx, opsConfig(newCfg, rt))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyDispatchState(ctx context.Context, prev, rt config.Runtime) {
	switch {
	case prev.DispatchActive && !rt.DispatchActive:
		a.log.Info("dispatcher disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.trigger.Stop(stopCtx)
		cancel()
	case !prev.DispatchActive && rt.DispatchActive:
		a.log.Info("dispatcher enabled via config")
		if err := a.startDispatch(ctx); err != nil {
			a.log.Warn("dispatcher start failed", logx.Err(err))
		}
	case rt.DispatchActive && prev.Tick != rt.Tick:
		if err := a.scheduleTick(rt.Tick); err != nil {
			a.log.Warn("tick reschedule failed", logx.Err(err))
			return
		}
		a.log.Info("dispatch tick changed", logx.Duration("every", rt.Tick))
	}
}
