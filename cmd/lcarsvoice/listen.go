package main

import (
	"github.com/spf13/cobra"

	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/recognizer"
	"lcarsvoice/internal/settings"
	"lcarsvoice/internal/voice"
)

func listenCmd(a *app) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the voice command loop",
		Long: `Stream microphone audio to the recognizer and act on what is heard:
commands from commands.json, music control and the captain's log.

Say "<assistant> stop listening" to exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store := settings.NewCommandStore(a.cfg.CommandsPath)
			go func() {
				if err := store.Watch(ctx); err != nil {
					appLog.Error("commands watch stopped", err)
				}
			}()

			if device == "" {
				device = settings.LoadOrDefault(a.cfg.SettingsPath).CaptureDevice()
			}
			rec := recognizer.NewVosk(a.cfg, device)
			loop := voice.New(a.cfg, a.cfg.SettingsPath, store.Commands)

			appLog.Info("listening", "recognizer", a.cfg.Recognizer.URL, "device", device)
			return ignoreCanceled(loop.Run(ctx, rec))
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "ALSA capture device (overrides settings input_device and input_device_index)")
	return cmd
}
