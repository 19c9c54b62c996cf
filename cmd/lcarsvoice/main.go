package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lcarsvoice/internal/config"
	"lcarsvoice/internal/ics"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/metrics"
)

var Version = "dev"

// skipConfig marks commands that must not load (and so create) the config file.
const skipConfig = "skip-config"

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func main() {
	err := newRootCmd(&app{}).Execute()
	if err != nil {
		appLog.Error("lcarsvoice failed", err)
	}
	appLog.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "lcarsvoice",
		Short:             "LCARS voice assistant: calendar agent, startup briefing and voice commands",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default <workspace>/lcarsvoice.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(calendarCmd(a))
	root.AddCommand(briefingCmd(a))
	root.AddCommand(listenCmd(a))
	root.AddCommand(serveCmd(a))
	root.AddCommand(configCmd(a))
	return root
}

// setup loads .env files, the config and configures logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loaded := config.LoadEnv()

	if a.configPath == "" {
		a.configPath = config.DefaultConfigPath()
	}
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		if cfg == nil {
			return err
		}
		appLog.Error("failed to write default config", err, "config_path", a.configPath)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg

	if err := a.setupLogging(false); err != nil {
		return err
	}
	appLog.Debug("effective config",
		"config_path", a.configPath,
		"workspace", cfg.Workspace,
		"settings", cfg.SettingsPath,
		"commands", cfg.CommandsPath,
		"env_files", loaded,
	)
	return nil
}

func (a *app) setupLogging(quiet bool) error {
	return appLog.Setup(appLog.Options{
		Level: appLog.ParseLevel(a.cfg.LogLevel),
		File:  a.cfg.LogFile,
		Quiet: quiet,
	})
}

// syncer returns a calendar syncer that records its results as metrics.
func (a *app) syncer() *ics.Syncer {
	s := ics.NewSyncer(a.cfg)
	s.OnResult = func(kind ics.SourceKind, err error) {
		metrics.RecordCalendarSync(string(kind), err)
	}
	return s
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ignoreCanceled treats shutdown by signal as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
