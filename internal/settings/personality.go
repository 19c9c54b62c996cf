package settings

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// DefaultQuote is spoken when a personality has no startup quotes.
const DefaultQuote = "System ready."

// Personality holds the phrases that give the assistant its voice.
type Personality struct {
	Acknowledgements []string `json:"acknowledgements"`
	StartupQuotes    []string `json:"startup_quotes"`
}

// LoadPersonality reads a personality JSON file.
func LoadPersonality(path string) (Personality, error) {
	var p Personality
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Personality{}, fmt.Errorf("settings: parse personality %s: %w", path, err)
	}
	return p, nil
}

// PersonalityPath resolves settings.personality_file against the workspace.
// It returns "" when no personality is configured.
func (s Settings) PersonalityPath(workspace string) string {
	p := s.PersonalityFile
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(workspace, p)
	}
	return p
}

// PersonalityPathOrDefault is PersonalityPath falling back to the bundled
// personalities/leo.json when the configured file is unset or missing.
func (s Settings) PersonalityPathOrDefault(workspace string) string {
	if p := s.PersonalityPath(workspace); p != "" && fileExists(p) {
		return p
	}
	return filepath.Join(workspace, "personalities", "leo.json")
}

// DefaultAcknowledgements are used when the personality has none.
func (s Settings) DefaultAcknowledgements() []string {
	return []string{
		"On it!",
		"You got it.",
		"Executing command.",
		"Yes, " + s.Rank() + ".",
		"Affirmative.",
	}
}

// Pick returns a random element of options, or fallback when options is empty.
func Pick(rnd *rand.Rand, options []string, fallback string) string {
	if len(options) == 0 {
		return fallback
	}
	if rnd == nil {
		return options[rand.Intn(len(options))]
	}
	return options[rnd.Intn(len(options))]
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
