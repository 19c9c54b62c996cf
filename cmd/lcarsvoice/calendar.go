package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lcarsvoice/internal/agenda"
	"lcarsvoice/internal/ics"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/settings"
	"lcarsvoice/internal/speech"
)

// envReportMode makes every calendar mode print instead of speak.
const envReportMode = "CALENDAR_REPORT_MODE"

func calendarCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "calendar [mode] [args...]",
		Short: "Answer a calendar question out loud",
		Long: `Sync the calendar named by calendar_url in the settings and answer a question.

Modes: ` + strings.Join(agenda.Modes, ", ") + `, or a weekday name.

Examples:
  lcarsvoice calendar
  lcarsvoice calendar friday
  lcarsvoice calendar search dentist
  lcarsvoice calendar date 2025-03-14
  lcarsvoice calendar report_today`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCalendar(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func (a *app) runCalendar(ctx context.Context, out io.Writer, args []string) error {
	mode := "today"
	if len(args) > 0 {
		mode, args = args[0], args[1:]
	}

	var speaker speech.Speaker
	if agenda.IsReportMode(mode) || os.Getenv(envReportMode) == "1" {
		// Report output is consumed by other tools; keep stdout and stderr clean.
		if err := a.setupLogging(true); err != nil {
			return err
		}
		speaker = speech.NewWriter(out)
	} else {
		speaker = speech.NewPiper(a.cfg, a.cfg.SettingsPath)
	}

	loc, err := a.cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", a.cfg.Timezone)
	}

	syncer := a.syncer()
	agent := agenda.New(a.cfg.Calendar.CacheFile, loc)
	// Sync only when the mode actually reads the calendar. A failed sync
	// falls back to the previous cache file.
	agent.Load = func() ([]ics.ParsedEvent, error) {
		s := settings.LoadOrDefault(a.cfg.SettingsPath)
		_ = syncer.Sync(ctx, s.CalendarURL)
		return ics.Load(a.cfg.Calendar.CacheFile)
	}

	text, calErr := agent.Report(mode, args)
	if err := speaker.Speak(ctx, text); err != nil {
		appLog.Error("speak failed", err)
	}
	return calErr
}
