package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. User-facing settings (names, voice, calendar URL) live in the
// JSON settings file shared with the terminal UI; see internal/settings.

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SpeechConfig configures text-to-speech and sound effect playback.
type SpeechConfig struct {
	// PiperBin is the piper binary. Relative paths resolve against InstallDir.
	PiperBin string `yaml:"piper_bin" json:"piper_bin"`
	// AplayBin plays the raw WAV stream produced by piper.
	AplayBin string `yaml:"aplay_bin" json:"aplay_bin"`
	// PlayerBin plays sound effect files (mp3/wav).
	PlayerBin  string   `yaml:"player_bin" json:"player_bin"`
	PlayerArgs []string `yaml:"player_args" json:"player_args"`
	// SoundsDir holds acknowledged*.mp3, pause.mp3 and unpause.mp3.
	SoundsDir string `yaml:"sounds_dir,omitempty" json:"sounds_dir"`
	// DefaultVoice is used when settings.voice_path is empty.
	DefaultVoice string `yaml:"default_voice" json:"default_voice"`
}

// RecognizerConfig configures audio capture and the Vosk recognizer endpoint.
type RecognizerConfig struct {
	// URL is the vosk-server websocket endpoint, e.g. "ws://127.0.0.1:2700".
	URL        string `yaml:"url" json:"url"`
	SampleRate int    `yaml:"sample_rate" json:"sample_rate"`
	// ChunkBytes is the size of each PCM block sent to the recognizer.
	ChunkBytes int    `yaml:"chunk_bytes" json:"chunk_bytes"`
	CaptureBin string `yaml:"capture_bin" json:"capture_bin"`
	// Device is the ALSA capture device. settings.input_device overrides it.
	Device string `yaml:"device" json:"device"`
}

// VoiceConfig tunes the command loop.
type VoiceConfig struct {
	// DebounceMs ignores utterances arriving within this window after a trigger.
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`
	// ShutdownGraceMs is how long "stop listening" waits before exiting.
	ShutdownGraceMs int `yaml:"shutdown_grace_ms" json:"shutdown_grace_ms"`
	// Shell runs matched commands as `<shell> -c <command>`.
	Shell string `yaml:"shell" json:"shell"`
}

// CaptainsLogConfig configures voice log recording and transcription.
type CaptainsLogConfig struct {
	RecorderBin string `yaml:"recorder_bin" json:"recorder_bin"`
	// Dir is where WAV recordings and transcripts are written.
	Dir string `yaml:"dir,omitempty" json:"dir"`
	// PathFile receives the path of the recording in progress.
	PathFile     string `yaml:"path_file" json:"path_file"`
	WhisperBin   string `yaml:"whisper_bin" json:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model" json:"whisper_model"`
}

// MediaConfig configures music playback control.
type MediaConfig struct {
	PlayerctlBin string `yaml:"playerctl_bin" json:"playerctl_bin"`
}

// WeatherConfig configures the briefing weather lookup.
type WeatherConfig struct {
	// URLTemplate contains {location}, replaced by the escaped location.
	URLTemplate string `yaml:"url_template" json:"url_template"`
	TimeoutMs   int    `yaml:"timeout_ms" json:"timeout_ms"`
}

// CalendarConfig configures calendar sync.
type CalendarConfig struct {
	// CacheFile is the merged/downloaded ICS the agent reads from.
	CacheFile string `yaml:"cache_file,omitempty" json:"cache_file"`
	// HTTPCacheDir stores ETag/Last-Modified metadata for remote feeds.
	HTTPCacheDir string `yaml:"http_cache_dir,omitempty" json:"http_cache_dir"`
	// RefreshCron is a cron-style schedule string used by `serve`.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// DisableCacheBust stops appending t=<unix> to remote calendar URLs.
	DisableCacheBust bool `yaml:"disable_cache_bust" json:"disable_cache_bust"`
}

// BriefingConfig configures the startup briefing.
type BriefingConfig struct {
	// Cron, if set, speaks the briefing on this schedule while `serve` runs.
	Cron     string `yaml:"cron" json:"cron"`
	LockFile string `yaml:"lock_file" json:"lock_file"`
	// Battery includes the battery level (I2C PiSugar or mock) when true.
	Battery bool `yaml:"battery" json:"battery"`
}

// Config is the top-level application configuration.
type Config struct {
	// Workspace is the per-user data directory (settings, commands, calendar cache).
	Workspace string `yaml:"workspace,omitempty" json:"workspace"`
	// InstallDir holds bundled assets (piper, voices, sounds). Defaults to the
	// executable's directory.
	InstallDir   string `yaml:"install_dir,omitempty" json:"install_dir"`
	SettingsPath string `yaml:"settings_path,omitempty" json:"settings_path"`
	CommandsPath string `yaml:"commands_path,omitempty" json:"commands_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	// Timezone is the IANA timezone used for calendar reports. Empty means local.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Listen is the HTTP listen address for `serve`.
	Listen    string           `yaml:"listen" json:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Speech      SpeechConfig      `yaml:"speech" json:"speech"`
	Recognizer  RecognizerConfig  `yaml:"recognizer" json:"recognizer"`
	Voice       VoiceConfig       `yaml:"voice" json:"voice"`
	CaptainsLog CaptainsLogConfig `yaml:"captains_log" json:"captains_log"`
	Media       MediaConfig       `yaml:"media" json:"media"`
	Weather     WeatherConfig     `yaml:"weather" json:"weather"`
	Calendar    CalendarConfig    `yaml:"calendar" json:"calendar"`
	Briefing    BriefingConfig    `yaml:"briefing" json:"briefing"`
}

// DefaultConfig returns an in-memory default configuration with paths
// resolved against the current environment.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
//
// $LCARS_WORKSPACE and an existing $LCARS_SETTINGS_PATH take precedence over
// the values in the file.
func (c *Config) Normalize() {
	if ws := os.Getenv(EnvWorkspace); ws != "" || c.Workspace == "" {
		c.Workspace = ResolveWorkspace()
	}
	if c.InstallDir == "" {
		c.InstallDir = executableDir()
	}
	if p := os.Getenv(EnvSettingsPath); (p != "" && fileExists(p)) || c.SettingsPath == "" {
		c.SettingsPath = ResolveSettingsPath(c.Workspace)
	}
	if c.CommandsPath == "" {
		c.CommandsPath = filepath.Join(c.Workspace, "commands.json")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8085"
	}

	s := &c.Speech
	if s.PiperBin == "" {
		s.PiperBin = "piper/piper"
	}
	if s.AplayBin == "" {
		s.AplayBin = "aplay"
	}
	if s.PlayerBin == "" {
		s.PlayerBin = "mpg123"
		if s.PlayerArgs == nil {
			s.PlayerArgs = []string{"-q"}
		}
	}
	if s.SoundsDir == "" {
		s.SoundsDir = filepath.Join(c.InstallDir, "sounds")
	}
	if s.DefaultVoice == "" {
		s.DefaultVoice = "voices/LibriVox/libri.onnx"
	}

	r := &c.Recognizer
	if r.URL == "" {
		r.URL = "ws://127.0.0.1:2700"
	}
	if r.SampleRate <= 0 {
		r.SampleRate = 16000
	}
	if r.ChunkBytes <= 0 {
		// 4000 frames of 16-bit mono.
		r.ChunkBytes = 8000
	}
	if r.CaptureBin == "" {
		r.CaptureBin = "arecord"
	}

	v := &c.Voice
	if v.DebounceMs <= 0 {
		v.DebounceMs = 1500
	}
	if v.ShutdownGraceMs <= 0 {
		v.ShutdownGraceMs = 3000
	}
	if v.Shell == "" {
		v.Shell = "/bin/sh"
	}

	l := &c.CaptainsLog
	if l.RecorderBin == "" {
		l.RecorderBin = "arecord"
	}
	if l.Dir == "" {
		l.Dir = filepath.Join(c.Workspace, "logs")
	}
	if l.PathFile == "" {
		l.PathFile = "/tmp/current_log_path"
	}
	if l.WhisperBin == "" {
		l.WhisperBin = "whisper"
	}
	if l.WhisperModel == "" {
		l.WhisperModel = "base"
	}

	if c.Media.PlayerctlBin == "" {
		c.Media.PlayerctlBin = "playerctl"
	}

	w := &c.Weather
	if w.URLTemplate == "" {
		w.URLTemplate = "https://wttr.in/{location}?format=%C+and+%t"
	}
	if w.TimeoutMs <= 0 {
		w.TimeoutMs = 2000
	}

	cal := &c.Calendar
	if cal.CacheFile == "" {
		cal.CacheFile = filepath.Join(c.Workspace, "calendar.ics")
	}
	if cal.HTTPCacheDir == "" {
		cal.HTTPCacheDir = filepath.Join(c.Workspace, "ics-cache")
	}
	if cal.RefreshCron == "" {
		cal.RefreshCron = "*/15 * * * *"
	}

	if c.Briefing.LockFile == "" {
		c.Briefing.LockFile = "/tmp/lcars_briefing.lock"
	}
}

// ResolveBin resolves a configured binary path: absolute paths and bare
// command names (looked up in PATH at exec time) are returned unchanged, and
// relative paths containing a separator resolve against InstallDir.
func (c *Config) ResolveBin(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if filepath.Base(p) == p {
		return p
	}
	return filepath.Join(c.InstallDir, p)
}

// Location resolves Timezone. An empty or unknown name yields time.Local;
// the error is returned alongside so callers can report it.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg.persisted())
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// persisted returns a copy of c with every path that was resolved from the
// environment cleared, so later loads resolve it again. Paths the user set
// to something else are kept.
func (c *Config) persisted() *Config {
	out := *c
	unset := func(field *string, resolved string) {
		if *field == resolved {
			*field = ""
		}
	}
	unset(&out.SettingsPath, ResolveSettingsPath(c.Workspace))
	unset(&out.CommandsPath, filepath.Join(c.Workspace, "commands.json"))
	unset(&out.CaptainsLog.Dir, filepath.Join(c.Workspace, "logs"))
	unset(&out.Calendar.CacheFile, filepath.Join(c.Workspace, "calendar.ics"))
	unset(&out.Calendar.HTTPCacheDir, filepath.Join(c.Workspace, "ics-cache"))
	unset(&out.Speech.SoundsDir, filepath.Join(c.InstallDir, "sounds"))
	unset(&out.Workspace, ResolveWorkspace())
	unset(&out.InstallDir, executableDir())
	return &out
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lcarsvoice-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
