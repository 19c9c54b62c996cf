package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// EnvWorkspace overrides the per-user data directory.
	EnvWorkspace = "LCARS_WORKSPACE"
	// EnvSettingsPath points at galactica_settings.json; the terminal UI sets it
	// when it launches the voice tools.
	EnvSettingsPath = "LCARS_SETTINGS_PATH"

	settingsFileName = "galactica_settings.json"
)

// LoadEnv loads KEY=VALUE pairs from .env files into the process environment.
// Variables that are already set win. Missing files are ignored.
//
// Files are tried in order: <workspace>/.env, ./.env. The workspace is
// resolved as in ResolveWorkspace.
func LoadEnv() []string {
	candidates := []string{filepath.Join(ResolveWorkspace(), ".env")}
	if abs, err := filepath.Abs(".env"); err != nil || abs != candidates[0] {
		candidates = append(candidates, ".env")
	}

	loaded := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

// ResolveWorkspace determines the user data directory and makes sure it
// exists:
//  1. $LCARS_WORKSPACE
//  2. ~/.config/lcars-terminal
//  3. ~/.lcars-terminal if (2) cannot be created
func ResolveWorkspace() string {
	if ws := os.Getenv(EnvWorkspace); ws != "" {
		_ = os.MkdirAll(ws, 0o700)
		return ws
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	primary := filepath.Join(home, ".config", "lcars-terminal")
	if err := os.MkdirAll(primary, 0o700); err == nil {
		return primary
	}

	fallback := filepath.Join(home, ".lcars-terminal")
	_ = os.MkdirAll(fallback, 0o700)
	return fallback
}

// ResolveSettingsPath picks the settings file:
//  1. $LCARS_SETTINGS_PATH if it exists
//  2. <workspace>/galactica_settings.json if it exists
//  3. legacy ~/.leo/galactica_settings.json
func ResolveSettingsPath(workspace string) string {
	if p := os.Getenv(EnvSettingsPath); p != "" && fileExists(p) {
		return p
	}

	inWorkspace := filepath.Join(workspace, settingsFileName)
	if fileExists(inWorkspace) {
		return inWorkspace
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return inWorkspace
	}
	return filepath.Join(home, ".leo", settingsFileName)
}

// DefaultConfigPath is where the YAML config lives when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(ResolveWorkspace(), "lcarsvoice.yaml")
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
