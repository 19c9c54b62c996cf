package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lcarsvoice/internal/battery"
	"lcarsvoice/internal/briefing"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/speech"
)

func briefingCmd(a *app) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Speak the startup briefing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b := a.briefer(ctx)
			if printOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), b.Composer.Compose(ctx))
				return err
			}
			return b.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the briefing instead of speaking it")
	return cmd
}

func (a *app) briefer(ctx context.Context) *briefing.Briefer {
	c := briefing.NewComposer(a.cfg)
	if a.cfg.Briefing.Battery {
		r, err := battery.Detect(ctx)
		if err != nil {
			appLog.Warn("battery level left out of briefing", "err", err.Error())
		} else {
			c.Battery = r
		}
	}
	return &briefing.Briefer{
		Composer: c,
		Speaker:  speech.NewPiper(a.cfg, a.cfg.SettingsPath),
		LockFile: a.cfg.Briefing.LockFile,
	}
}
