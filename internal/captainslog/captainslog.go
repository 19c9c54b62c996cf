// Package captainslog records spoken log entries and transcribes them.
package captainslog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// ErrNotRecording is returned by Pause, Resume and Stop when no recording
// is in progress.
var ErrNotRecording = errors.New("captainslog: not recording")

// Recorder records a WAV file with arecord. Pause and resume suspend the
// recorder process, so the file has no gap markers.
type Recorder struct {
	Bin      string
	Dir      string
	PathFile string
	Now      func() time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan error
	path   string
	paused bool
}

// NewRecorder builds a Recorder from the config.
func NewRecorder(cfg *config.Config) *Recorder {
	return &Recorder{
		Bin:      cfg.ResolveBin(cfg.CaptainsLog.RecorderBin),
		Dir:      cfg.CaptainsLog.Dir,
		PathFile: cfg.CaptainsLog.PathFile,
		Now:      time.Now,
	}
}

// Start begins a new recording and returns its path. The path is also
// written to PathFile for other tools.
func (r *Recorder) Start(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return r.path, errors.New("captainslog: already recording")
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return "", fmt.Errorf("captainslog: create dir: %w", err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	path := filepath.Join(r.Dir, "captains-log-"+now().Format("20060102-150405")+".wav")

	// Not bound to a context: the recording outlives the utterance that
	// started it and is ended by Stop.
	cmd := exec.Command(r.Bin, "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", path)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("captainslog: start recorder: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if r.PathFile != "" {
		if err := os.WriteFile(r.PathFile, []byte(path+"\n"), 0o644); err != nil {
			appLog.Error("captainslog: write path file failed", err, "path", r.PathFile)
		}
	}

	r.cmd, r.done, r.path, r.paused = cmd, done, path, false
	appLog.Info("captain's log recording", "path", path, "pid", cmd.Process.Pid)
	return path, nil
}

// Pause suspends the recorder.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return ErrNotRecording
	}
	if err := r.cmd.Process.Signal(unix.SIGSTOP); err != nil {
		return err
	}
	r.paused = true
	return nil
}

// Resume continues a paused recorder.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return ErrNotRecording
	}
	if err := r.cmd.Process.Signal(unix.SIGCONT); err != nil {
		return err
	}
	r.paused = false
	return nil
}

// Stop interrupts the recorder so it finalises the WAV header, waits for it
// to exit and returns the recording path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return "", ErrNotRecording
	}
	proc, done, path := r.cmd.Process, r.done, r.path
	r.cmd, r.done, r.path = nil, nil, ""

	if r.paused {
		// A stopped process does not act on SIGINT until continued.
		_ = proc.Signal(unix.SIGCONT)
		r.paused = false
	}
	if err := proc.Signal(unix.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return path, err
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = proc.Kill()
		<-done
	}
	appLog.Info("captain's log stopped", "path", path)
	return path, nil
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}

// Whisper transcribes recordings with the whisper CLI.
type Whisper struct {
	Bin   string
	Model string
}

// NewWhisper builds a Whisper from the config.
func NewWhisper(cfg *config.Config) *Whisper {
	return &Whisper{Bin: cfg.ResolveBin(cfg.CaptainsLog.WhisperBin), Model: cfg.CaptainsLog.WhisperModel}
}

// TranscriptPath is the .txt sibling of a recording.
func TranscriptPath(wav string) string {
	return strings.TrimSuffix(wav, filepath.Ext(wav)) + ".txt"
}

// Transcribe writes the trimmed transcript next to wav and returns its path.
func (w *Whisper) Transcribe(ctx context.Context, wav string) (string, error) {
	if wav == "" {
		return "", errors.New("captainslog: no recording to transcribe")
	}
	if _, err := os.Stat(wav); err != nil {
		return "", fmt.Errorf("captainslog: recording missing: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.Bin, wav,
		"--model", w.Model,
		"--output_format", "txt",
		"--output_dir", filepath.Dir(wav),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("captainslog: whisper: %w: %s", err, strings.TrimSpace(string(out)))
	}

	txt := TranscriptPath(wav)
	data, err := os.ReadFile(txt)
	if err != nil {
		return "", fmt.Errorf("captainslog: read transcript: %w", err)
	}
	if err := os.WriteFile(txt, []byte(strings.TrimSpace(string(data))), 0o644); err != nil {
		return "", err
	}
	appLog.Info("captain's log transcribed", "path", txt)
	return txt, nil
}
