package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	t.Setenv(EnvSettingsPath, "")

	cfg := &Config{InstallDir: "/opt/lcars"}
	cfg.Normalize()

	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Join(ws, "commands.json"), cfg.CommandsPath)
	assert.Equal(t, filepath.Join(ws, "calendar.ics"), cfg.Calendar.CacheFile)
	assert.Equal(t, filepath.Join(ws, "logs"), cfg.CaptainsLog.Dir)
	assert.Equal(t, "/opt/lcars/sounds", cfg.Speech.SoundsDir)
	assert.Equal(t, 1500, cfg.Voice.DebounceMs)
	assert.Equal(t, 16000, cfg.Recognizer.SampleRate)
	assert.Equal(t, 8000, cfg.Recognizer.ChunkBytes)
	assert.Equal(t, "*/15 * * * *", cfg.Calendar.RefreshCron)
	assert.Equal(t, "/tmp/lcars_briefing.lock", cfg.Briefing.LockFile)
	assert.Contains(t, cfg.Weather.URLTemplate, "{location}")
}

func TestResolveBin(t *testing.T) {
	cfg := &Config{InstallDir: "/opt/lcars"}

	assert.Equal(t, "/usr/bin/aplay", cfg.ResolveBin("/usr/bin/aplay"))
	assert.Equal(t, "aplay", cfg.ResolveBin("aplay"))
	assert.Equal(t, "/opt/lcars/piper/piper", cfg.ResolveBin("piper/piper"))
	assert.Equal(t, "", cfg.ResolveBin(""))
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	path := filepath.Join(ws, "nested", "lcarsvoice.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestLoadRoundTripKeepsOverrides(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	path := filepath.Join(ws, "lcarsvoice.yaml")

	yml := []byte(`
listen: 0.0.0.0:9000
voice:
  debounce_ms: 800
recognizer:
  url: ws://pi.local:2700
calendar:
  disable_cache_bust: true
`)
	require.NoError(t, os.WriteFile(path, yml, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 800, cfg.Voice.DebounceMs)
	assert.Equal(t, "ws://pi.local:2700", cfg.Recognizer.URL)
	assert.True(t, cfg.Calendar.DisableCacheBust)
	// Untouched sections still get defaults.
	assert.Equal(t, 3000, cfg.Voice.ShutdownGraceMs)
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestResolveSettingsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ws := t.TempDir()

	t.Run("env path wins when it exists", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "s.json")
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
		t.Setenv(EnvSettingsPath, p)
		assert.Equal(t, p, ResolveSettingsPath(ws))
	})

	t.Run("missing env path falls through to legacy", func(t *testing.T) {
		t.Setenv(EnvSettingsPath, filepath.Join(ws, "nope.json"))
		assert.Equal(t, filepath.Join(home, ".leo", settingsFileName), ResolveSettingsPath(ws))
	})

	t.Run("workspace file", func(t *testing.T) {
		t.Setenv(EnvSettingsPath, "")
		p := filepath.Join(ws, settingsFileName)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
		assert.Equal(t, p, ResolveSettingsPath(ws))
	})
}

func TestResolveWorkspaceFromHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvWorkspace, "")

	ws := ResolveWorkspace()
	assert.Equal(t, filepath.Join(home, ".config", "lcars-terminal"), ws)
	assert.DirExists(t, ws)
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	t.Setenv("LCARS_TEST_KEEP", "from-env")
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"),
		[]byte("LCARS_TEST_KEEP=from-file\nLCARS_TEST_NEW=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LCARS_TEST_NEW") })

	loaded := LoadEnv()
	assert.Contains(t, loaded, filepath.Join(ws, ".env"))
	assert.Equal(t, "from-env", os.Getenv("LCARS_TEST_KEEP"))
	assert.Equal(t, "loaded", os.Getenv("LCARS_TEST_NEW"))
}

func TestLocation(t *testing.T) {
	c := &Config{}
	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	c.Timezone = "Africa/Johannesburg"
	loc, err = c.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Johannesburg", loc.String())

	c.Timezone = "Mars/Olympus"
	loc, err = c.Location()
	assert.Error(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadResolvesSettingsPathEveryRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	t.Setenv(EnvSettingsPath, "")
	path := filepath.Join(ws, "lcarsvoice.yaml")

	first, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".leo", settingsFileName), first.SettingsPath)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "settings_path")
	assert.NotContains(t, string(data), "workspace")

	uiSettings := filepath.Join(t.TempDir(), "ui", settingsFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(uiSettings), 0o700))
	require.NoError(t, os.WriteFile(uiSettings, []byte("{}"), 0o600))
	t.Setenv(EnvSettingsPath, uiSettings)

	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uiSettings, second.SettingsPath)

	// A workspace settings file created later is picked up once the env var
	// is gone.
	t.Setenv(EnvSettingsPath, "")
	inWorkspace := filepath.Join(ws, settingsFileName)
	require.NoError(t, os.WriteFile(inWorkspace, []byte("{}"), 0o600))

	third, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, inWorkspace, third.SettingsPath)
}

func TestLoadKeepsExplicitPaths(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(EnvWorkspace, ws)
	t.Setenv(EnvSettingsPath, "")
	path := filepath.Join(ws, "lcarsvoice.yaml")

	cfg := DefaultConfig()
	cfg.SettingsPath = "/srv/lcars/settings.json"
	cfg.Calendar.CacheFile = "/srv/lcars/calendar.ics"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/lcars/settings.json", loaded.SettingsPath)
	assert.Equal(t, "/srv/lcars/calendar.ics", loaded.Calendar.CacheFile)
	assert.Equal(t, filepath.Join(ws, "commands.json"), loaded.CommandsPath)

	// The env var still wins over the file when it points at a real file.
	envSettings := filepath.Join(ws, "env.json")
	require.NoError(t, os.WriteFile(envSettings, []byte("{}"), 0o600))
	t.Setenv(EnvSettingsPath, envSettings)
	loaded, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, envSettings, loaded.SettingsPath)
}

func TestLoadEnvFromDefaultWorkspace(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvWorkspace, "")
	t.Setenv("LCARS_TEST_WS_ENV", "")
	os.Unsetenv("LCARS_TEST_WS_ENV")
	t.Cleanup(func() { os.Unsetenv("LCARS_TEST_WS_ENV") })

	envFile := filepath.Join(home, ".config", "lcars-terminal", ".env")
	require.NoError(t, os.MkdirAll(filepath.Dir(envFile), 0o700))
	require.NoError(t, os.WriteFile(envFile, []byte("LCARS_TEST_WS_ENV=yes\n"), 0o600))

	loaded := LoadEnv()
	assert.Contains(t, loaded, envFile)
	assert.Equal(t, "yes", os.Getenv("LCARS_TEST_WS_ENV"))
}
