package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contentpilot/internal/app"
	"contentpilot/pkg/logx"
	"contentpilot/pkg/systemd"
)

func newServeCmd() *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, notifier and ops server until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func serve(parent context.Context, stopTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
		defer scancel()
		_ = a.Stop(sctx, app.StopFatalError)
		return err
	}
	log := a.Log()
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	go func() {
		if err := systemd.Watchdog(ctx); err != nil {
			log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	}()

	reason := app.StopUnknown
wait:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				if err := a.ReopenLogs(); err != nil {
					log.Warn("log reopen failed", logx.Err(err))
				}
				continue
			}
			reason = app.StopSIGTERM
			if sig == os.Interrupt {
				reason = app.StopSIGINT
			}
			break wait
		case <-a.Done():
			reason = app.StopFatalError
			break wait
		}
	}

	_, _ = systemd.Stopping()
	sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
	defer scancel()
	_ = a.Stop(sctx, reason)
	cancel()
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
