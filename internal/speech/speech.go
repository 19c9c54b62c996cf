// Package speech speaks text through piper and plays sound effects.
package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/metrics"
	"lcarsvoice/internal/settings"
)

// Speaker says text out loud (or wherever the implementation sends it).
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Piper speaks by piping text through the piper TTS binary into aplay.
type Piper struct {
	PiperBin     string
	AplayBin     string
	Workspace    string
	InstallDir   string
	DefaultVoice string

	// Settings is called on every Speak so voice changes made in the UI apply
	// without a restart.
	Settings func() settings.Settings

	// pipe runs the piper -> aplay pipeline; replaceable in tests.
	pipe func(ctx context.Context, text string, piperArgs []string) error
}

// NewPiper builds a Piper from the config, re-reading settingsPath per call.
func NewPiper(cfg *config.Config, settingsPath string) *Piper {
	p := &Piper{
		PiperBin:     cfg.ResolveBin(cfg.Speech.PiperBin),
		AplayBin:     cfg.ResolveBin(cfg.Speech.AplayBin),
		Workspace:    cfg.Workspace,
		InstallDir:   cfg.InstallDir,
		DefaultVoice: cfg.Speech.DefaultVoice,
		Settings:     func() settings.Settings { return settings.LoadOrDefault(settingsPath) },
	}
	p.pipe = p.runPipeline
	return p
}

// Speak implements Speaker. A missing piper binary is logged and treated as
// success so that callers keep working on machines without TTS.
func (p *Piper) Speak(ctx context.Context, text string) error {
	appLog.Info("speaking", "text", text)

	if !binAvailable(p.PiperBin) {
		appLog.Warn("piper binary not found; not speaking", "bin", p.PiperBin)
		metrics.SpeakCalls.WithLabelValues("skipped").Inc()
		return nil
	}

	var s settings.Settings
	if p.Settings != nil {
		s = p.Settings()
	}
	pipe := p.pipe
	if pipe == nil {
		pipe = p.runPipeline
	}
	err := pipe(ctx, text, p.Args(s))
	metrics.SpeakCalls.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		appLog.Error("speak failed", err)
	}
	return err
}

// Args returns the piper arguments for the current settings.
func (p *Piper) Args(s settings.Settings) []string {
	voice := ResolveVoice(s.VoicePath, p.DefaultVoice, p.Workspace, p.InstallDir)
	args := []string{"--model", voice, "--output_file", "-"}
	if hasSpeakerMap(voice) {
		args = append(args, "--speaker", s.Speaker())
	}
	return args
}

func (p *Piper) runPipeline(ctx context.Context, text string, piperArgs []string) error {
	piper := exec.CommandContext(ctx, p.PiperBin, piperArgs...)
	piper.Stdin = strings.NewReader(text + "\n")
	out, err := piper.StdoutPipe()
	if err != nil {
		return err
	}

	aplay := exec.CommandContext(ctx, p.AplayBin, "-q")
	aplay.Stdin = out

	if err := piper.Start(); err != nil {
		return fmt.Errorf("speech: start piper: %w", err)
	}
	aplayErr := aplay.Run()
	if aplayErr != nil && piper.Process != nil {
		// Nobody is draining piper's output any more.
		_ = piper.Process.Kill()
	}
	piperErr := piper.Wait()

	if aplayErr != nil {
		return fmt.Errorf("speech: aplay: %w", aplayErr)
	}
	if piperErr != nil {
		return fmt.Errorf("speech: piper: %w", piperErr)
	}
	return nil
}

// ResolveVoice picks the voice model path. Relative paths are looked up in
// the workspace (user voices) and then the install dir (bundled voices);
// when neither exists the workspace path is returned so the error names it.
func ResolveVoice(voicePath, defaultVoice, workspace, installDir string) string {
	v := strings.TrimSpace(voicePath)
	if v == "" {
		v = defaultVoice
	}
	if filepath.IsAbs(v) {
		return v
	}
	user := filepath.Join(workspace, v)
	if exists(user) {
		return user
	}
	bundled := filepath.Join(installDir, v)
	if exists(bundled) {
		return bundled
	}
	return user
}

// hasSpeakerMap reports whether the model's <voice>.json declares multiple
// speakers.
func hasSpeakerMap(voice string) bool {
	data, err := os.ReadFile(voice + ".json")
	if err != nil {
		return false
	}
	var conf map[string]json.RawMessage
	if err := json.Unmarshal(data, &conf); err != nil {
		appLog.Error("voice config unreadable", err, "path", voice+".json")
		return false
	}
	_, ok := conf["speaker_id_map"]
	return ok
}

func binAvailable(bin string) bool {
	if bin == "" {
		return false
	}
	if strings.ContainsRune(bin, filepath.Separator) {
		return exists(bin)
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Writer prints text instead of speaking it. Report mode uses it so other
// programs can capture the calendar summary.
type Writer struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriter returns a Writer on w (os.Stdout when nil).
func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = os.Stdout
	}
	return &Writer{W: w}
}

func (w *Writer) Speak(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.W == nil {
		return errors.New("speech: writer has no output")
	}
	_, err := fmt.Fprintln(w.W, text)
	return err
}
