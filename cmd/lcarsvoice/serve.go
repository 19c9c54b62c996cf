package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/scheduler"
	"lcarsvoice/internal/settings"
	"lcarsvoice/internal/web"
)

func serveCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled calendar syncs and briefings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func (a *app) runServe(parent context.Context) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	syncer := a.syncer()
	syncCalendar := func(ctx context.Context) error {
		return syncer.Sync(ctx, settings.LoadOrDefault(a.cfg.SettingsPath).CalendarURL)
	}

	sched := scheduler.New()
	if err := sched.Add("calendar", a.cfg.Calendar.RefreshCron, syncCalendar); err != nil {
		return err
	}
	if err := sched.Add("briefing", a.cfg.Briefing.Cron, func(ctx context.Context) error {
		return a.briefer(ctx).Run(ctx)
	}); err != nil {
		return err
	}

	appLog.Info("lcarsvoice serve starting",
		"version", Version,
		"listen", a.cfg.Listen,
		"calendar_refresh", a.cfg.Calendar.RefreshCron,
		"briefing_cron", a.cfg.Briefing.Cron,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		// Warm the cache so the API has data before the first tick.
		_ = syncCalendar(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	err := web.StartServer(ctx, a.cfg)
	cancel()
	wg.Wait()
	appLog.Info("lcarsvoice serve exiting")
	return err
}
