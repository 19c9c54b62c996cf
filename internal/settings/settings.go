// Package settings reads the JSON files shared with the LCARS terminal UI:
// galactica_settings.json, personality files and commands.json.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	appLog "lcarsvoice/internal/log"
)

// Defaults applied when a setting is missing or empty.
const (
	DefaultRank            = "Captain"
	DefaultName            = "Bradly"
	DefaultSurname         = "User"
	DefaultAssistant       = "Leo"
	DefaultWeatherLocation = "Cape Town"
	DefaultSpeakerID       = "0"
)

// FlexString accepts either a JSON string or number. The UI writes
// speaker_id as a number, hand-edited files often use a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("settings: expected string or number, got %s", string(b))
	}
	*f = FlexString(n.String())
	return nil
}

// Settings mirrors galactica_settings.json. Unknown keys are ignored so the UI
// can add fields freely.
type Settings struct {
	UserRank             string     `json:"user_rank"`
	UserName             string     `json:"user_name"`
	UserSurname          string     `json:"user_surname"`
	AssistantName        string     `json:"assistant_name"`
	PhoneticAlternatives []string   `json:"phonetic_alternatives"`
	VoiceAckEnabled      *bool      `json:"voice_ack_enabled"`
	PersonalityFile      string     `json:"personality_file"`
	VoicePath            string     `json:"voice_path"`
	SpeakerID            FlexString `json:"speaker_id"`
	CalendarURL          string     `json:"calendar_url"`
	WeatherLocation      string     `json:"weather_location"`
	// InputDevice is an ALSA capture device name such as "plughw:1,0".
	InputDevice string `json:"input_device"`
	// InputDeviceIndex selects a capture card by number when InputDevice is
	// empty.
	InputDeviceIndex *int `json:"input_device_index"`
}

// Load reads settings from path. A missing file or one that is not a JSON
// object yields empty settings together with the error, so callers can log
// and carry on with defaults. A key with the wrong type is skipped with a
// warning; the other keys still apply.
func Load(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	for key, value := range raw {
		one, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		if err := json.Unmarshal(one, &s); err != nil {
			appLog.Warn("settings key ignored", "path", path, "key", key, "err", err.Error())
		}
	}
	return s, nil
}

// LoadOrDefault is Load with the error logged instead of returned.
func LoadOrDefault(path string) Settings {
	s, err := Load(path)
	if err != nil {
		appLog.Error("settings load failed; using defaults", err, "path", path)
	}
	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (s Settings) Rank() string      { return orDefault(s.UserRank, DefaultRank) }
func (s Settings) Name() string      { return orDefault(s.UserName, DefaultName) }
func (s Settings) Surname() string   { return orDefault(s.UserSurname, DefaultSurname) }
func (s Settings) Assistant() string { return orDefault(s.AssistantName, DefaultAssistant) }
func (s Settings) Speaker() string   { return orDefault(string(s.SpeakerID), DefaultSpeakerID) }

func (s Settings) Weather() string {
	return orDefault(s.WeatherLocation, DefaultWeatherLocation)
}

// CaptureDevice returns the ALSA device to record from: InputDevice, else
// "plughw:<index>,0" for InputDeviceIndex, else "" for the system default.
func (s Settings) CaptureDevice() string {
	if d := strings.TrimSpace(s.InputDevice); d != "" {
		return d
	}
	if s.InputDeviceIndex != nil && *s.InputDeviceIndex >= 0 {
		return fmt.Sprintf("plughw:%d,0", *s.InputDeviceIndex)
	}
	return ""
}

// AckEnabled reports whether acknowledgements are spoken (true) or played as
// a sound effect (false). Defaults to true.
func (s Settings) AckEnabled() bool {
	return s.VoiceAckEnabled == nil || *s.VoiceAckEnabled
}

// WakeNames returns the lower-cased assistant name followed by its phonetic
// alternatives. Recognizers often mishear short names, so any of these
// counts as addressing the assistant.
func (s Settings) WakeNames() []string {
	names := []string{strings.ToLower(s.Assistant())}
	for _, alt := range s.PhoneticAlternatives {
		alt = strings.ToLower(strings.TrimSpace(alt))
		if alt != "" {
			names = append(names, alt)
		}
	}
	return names
}

// Expand replaces the personality placeholders {USER_RANK}, {USER_NAME},
// {USER_SURNAME} and {ASSISTANT_NAME}.
func (s Settings) Expand(text string) string {
	r := strings.NewReplacer(
		"{USER_RANK}", s.Rank(),
		"{USER_NAME}", s.Name(),
		"{USER_SURNAME}", s.Surname(),
		"{ASSISTANT_NAME}", s.Assistant(),
	)
	return r.Replace(text)
}
