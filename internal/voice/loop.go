// Package voice is the speech command loop: it reacts to recognised
// utterances by running commands, controlling music and recording the
// captain's log.
package voice

import (
	"context"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"lcarsvoice/internal/captainslog"
	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/media"
	"lcarsvoice/internal/metrics"
	"lcarsvoice/internal/recognizer"
	"lcarsvoice/internal/settings"
	"lcarsvoice/internal/speech"
)

// Mode is the loop state.
type Mode int

const (
	// ModeCommand listens for the assistant's name and commands.
	ModeCommand Mode = iota
	// ModeLogging is recording a captain's log.
	ModeLogging
	// ModeLogPaused has a captain's log on hold.
	ModeLogPaused
)

func (m Mode) String() string {
	switch m {
	case ModeLogging:
		return "logging"
	case ModeLogPaused:
		return "log-paused"
	default:
		return "command"
	}
}

// Spoken responses.
const (
	SayLogStarted      = "Captain's log initiated."
	SayLogTerminated   = "Log terminated. Processing audio."
	SayTranscribed     = "Transcription complete."
	SayTranscribeError = "Error during transcription."
	SayLogResumed      = "Resuming log."
	SayLogPaused       = "Log paused."
	SayGoodbye         = "Shutting down. Goodbye."
)

// LogRecorder records the captain's log.
type LogRecorder interface {
	Start(ctx context.Context) (string, error)
	Pause() error
	Resume() error
	Stop() (string, error)
}

// Transcriber turns a recording into a transcript file.
type Transcriber interface {
	Transcribe(ctx context.Context, wav string) (string, error)
}

// MediaController performs playback actions.
type MediaController interface {
	Do(ctx context.Context, a media.Action) error
}

// SoundPlayer plays sound effects by name.
type SoundPlayer interface {
	Play(ctx context.Context, names ...string) string
}

// Loop holds the command loop state. Handle is not safe for concurrent use;
// Run feeds it from a single goroutine.
type Loop struct {
	Settings  func() settings.Settings
	Commands  func() settings.Commands
	Workspace string
	// BaseDir replaces {base_dir} in commands.
	BaseDir string

	Speaker     speech.Speaker
	Sounds      SoundPlayer
	Recorder    LogRecorder
	Transcriber Transcriber
	Media       MediaController
	// Exec runs a rendered command line.
	Exec func(ctx context.Context, command string) error

	Debounce      time.Duration
	ShutdownGrace time.Duration
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration)
	Rand          *rand.Rand

	mode        Mode
	lastTrigger time.Time
	recording   string
}

// New wires a Loop to the real speaker, recorder, transcriber and media
// controller. Settings are re-read from settingsPath on every utterance.
func New(cfg *config.Config, settingsPath string, commands func() settings.Commands) *Loop {
	return &Loop{
		Settings:      func() settings.Settings { return settings.LoadOrDefault(settingsPath) },
		Commands:      commands,
		Workspace:     cfg.Workspace,
		BaseDir:       cfg.InstallDir,
		Speaker:       speech.NewPiper(cfg, settingsPath),
		Sounds:        speech.NewSFX(cfg),
		Recorder:      captainslog.NewRecorder(cfg),
		Transcriber:   captainslog.NewWhisper(cfg),
		Media:         media.NewController(cfg),
		Exec:          ShellExec(cfg.Voice.Shell),
		Debounce:      time.Duration(cfg.Voice.DebounceMs) * time.Millisecond,
		ShutdownGrace: time.Duration(cfg.Voice.ShutdownGraceMs) * time.Millisecond,
		Now:           time.Now,
		Rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Mode returns the current state.
func (l *Loop) Mode() Mode { return l.mode }

// Run consumes utterances from rec until "stop listening", the recognizer
// ends, or ctx is done.
func (l *Loop) Run(ctx context.Context, rec recognizer.Recognizer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	utterances := make(chan string, 16)
	var wg sync.WaitGroup
	var recErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(utterances)
		recErr = rec.Run(ctx, utterances)
	}()

	appLog.Info("voice loop listening")
	for text := range utterances {
		if l.Handle(ctx, text) {
			appLog.Info("voice loop stopping on request")
			cancel()
			break
		}
	}

	// Let the recognizer shut down before returning.
	for range utterances {
	}
	wg.Wait()
	l.shutdownLog()
	return recErr
}

// shutdownLog stops a recording left running when the loop ends.
func (l *Loop) shutdownLog() {
	if l.mode == ModeCommand || l.Recorder == nil {
		return
	}
	if _, err := l.Recorder.Stop(); err != nil {
		appLog.Error("captain's log stop on shutdown failed", err)
	}
	l.mode = ModeCommand
}

// Handle processes one utterance and reports whether the loop should stop.
func (l *Loop) Handle(ctx context.Context, text string) bool {
	metrics.Utterances.Inc()

	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	if !l.lastTrigger.IsZero() && l.now().Sub(l.lastTrigger) < l.Debounce {
		appLog.Debug("utterance ignored by debounce", "text", text)
		return false
	}
	appLog.Info("heard", "text", text, "mode", l.mode.String())

	if l.mode != ModeCommand {
		l.handleLogging(ctx, text)
		return false
	}
	return l.handleCommand(ctx, text)
}

func (l *Loop) trigger(kind string) {
	l.lastTrigger = l.now()
	metrics.CommandsDispatched.WithLabelValues(kind).Inc()
}

func (l *Loop) handleLogging(ctx context.Context, text string) {
	if !strings.Contains(text, "log") {
		return
	}
	switch {
	case strings.Contains(text, "terminate"):
		l.trigger("log_terminate")
		l.mode = ModeCommand

		path, err := l.Recorder.Stop()
		if err != nil {
			appLog.Error("captain's log stop failed", err)
		}
		if path == "" {
			path = l.recording
		}
		l.recording = ""
		l.say(ctx, SayLogTerminated)

		if _, err := l.Transcriber.Transcribe(ctx, path); err != nil {
			appLog.Error("captain's log transcription failed", err, "path", path)
			l.say(ctx, SayTranscribeError)
			return
		}
		l.say(ctx, SayTranscribed)

	case strings.Contains(text, "resume"):
		l.trigger("log_resume")
		l.mode = ModeLogging
		l.play(ctx, speech.ResumeSound)
		if err := l.Recorder.Resume(); err != nil {
			appLog.Error("captain's log resume failed", err)
		}
		l.say(ctx, SayLogResumed)

	case strings.Contains(text, "pause"):
		l.trigger("log_pause")
		l.mode = ModeLogPaused
		l.play(ctx, speech.PauseSound)
		if err := l.Recorder.Pause(); err != nil {
			appLog.Error("captain's log pause failed", err)
		}
		l.say(ctx, SayLogPaused)
	}
}

func (l *Loop) handleCommand(ctx context.Context, text string) bool {
	s := l.settings()
	names := s.WakeNames()
	addressed := false
	for _, n := range names {
		if strings.Contains(text, n) {
			addressed = true
			break
		}
	}

	if addressed && strings.Contains(text, "captain's log") {
		l.trigger("log_start")
		l.mode = ModeLogging
		l.play(ctx, speech.ResumeSound)
		l.say(ctx, SayLogStarted)
		path, err := l.Recorder.Start(ctx)
		if err != nil {
			appLog.Error("captain's log start failed", err)
			l.mode = ModeCommand
			return false
		}
		l.recording = path
		return false
	}

	if addressed && strings.Contains(text, "stop listening") {
		l.trigger("stop")
		l.play(ctx, speech.PauseSound)
		l.say(ctx, SayGoodbye)
		l.sleep(ctx, l.ShutdownGrace)
		return true
	}

	var cmds settings.Commands
	if l.Commands != nil {
		cmds = l.Commands()
	}
	if cmd, ok := cmds.Match(text, names); ok {
		appLog.Info("executing", "phrase", cmd.Phrase)
		l.trigger("command")
		l.acknowledge(ctx, s)

		line := cmd.Render(s, strings.ToLower(s.Assistant()), l.BaseDir)
		if l.Exec != nil {
			if err := l.Exec(ctx, line); err != nil {
				appLog.Error("command failed", err, "phrase", cmd.Phrase)
			}
		}
		return false
	}

	if addressed && l.Media != nil {
		if action, ok := media.MatchPhrase(text); ok {
			l.trigger("media")
			if err := l.Media.Do(ctx, action); err != nil {
				appLog.Error("media control failed", err, "action", string(action))
			}
		}
	}
	return false
}

// acknowledge speaks a random acknowledgement, or plays a chime when spoken
// acknowledgements are off.
func (l *Loop) acknowledge(ctx context.Context, s settings.Settings) {
	if !s.AckEnabled() {
		l.play(ctx, speech.AckSounds...)
		return
	}

	responses := s.DefaultAcknowledgements()
	if path := s.PersonalityPath(l.Workspace); path != "" {
		if p, err := settings.LoadPersonality(path); err == nil && len(p.Acknowledgements) > 0 {
			responses = p.Acknowledgements
		} else if err != nil {
			appLog.Debug("personality unavailable", "path", path, "err", err.Error())
		}
	}
	l.say(ctx, s.Expand(settings.Pick(l.Rand, responses, "")))
}

func (l *Loop) settings() settings.Settings {
	if l.Settings == nil {
		return settings.Settings{}
	}
	return l.Settings()
}

func (l *Loop) say(ctx context.Context, text string) {
	if l.Speaker == nil || text == "" {
		return
	}
	if err := l.Speaker.Speak(ctx, text); err != nil {
		appLog.Error("speak failed", err)
	}
}

func (l *Loop) play(ctx context.Context, names ...string) {
	if l.Sounds != nil {
		l.Sounds.Play(ctx, names...)
	}
}

func (l *Loop) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if l.Sleep != nil {
		l.Sleep(ctx, d)
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// ShellExec returns an Exec function running commands with `shell -c`.
// Output goes to the process's own stdout and stderr.
func ShellExec(shell string) func(ctx context.Context, command string) error {
	return func(ctx context.Context, command string) error {
		cmd := exec.CommandContext(ctx, shell, "-c", command)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
}
