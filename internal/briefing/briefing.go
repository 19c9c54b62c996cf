// Package briefing composes and speaks the startup briefing.
package briefing

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"lcarsvoice/internal/battery"
	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
	"lcarsvoice/internal/settings"
	"lcarsvoice/internal/speech"
)

// Greeting returns the salutation for the hour of t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// Weather looks up a one-line weather description.
type Weather struct {
	// URLTemplate contains {location}.
	URLTemplate string
	Client      *http.Client
}

// NewWeather builds a Weather client from the config.
func NewWeather(cfg config.WeatherConfig) *Weather {
	return &Weather{
		URLTemplate: cfg.URLTemplate,
		Client:      &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
	}
}

// Lookup returns the trimmed response body, or "" on any failure. The
// briefing simply leaves the weather out in that case.
func (w *Weather) Lookup(ctx context.Context, location string) string {
	u := strings.ReplaceAll(w.URLTemplate, "{location}", url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		appLog.Error("weather request build failed", err)
		return ""
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		appLog.Warn("weather lookup failed", "err", err.Error())
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		appLog.Warn("weather lookup non-OK", "status", resp.StatusCode)
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

// Composer assembles the briefing text.
type Composer struct {
	Workspace string
	Settings  func() settings.Settings
	Now       func() time.Time

	// Weather returns "" when unavailable.
	Weather func(ctx context.Context, location string) string
	// Disk returns the used percentage of the root filesystem.
	Disk func() (int, error)
	// Battery is optional.
	Battery battery.Reader

	Rand *rand.Rand
}

// NewComposer wires a Composer to the real weather service and filesystem.
func NewComposer(cfg *config.Config) *Composer {
	w := NewWeather(cfg.Weather)
	return &Composer{
		Workspace: cfg.Workspace,
		Settings:  func() settings.Settings { return settings.LoadOrDefault(cfg.SettingsPath) },
		Now:       time.Now,
		Weather:   w.Lookup,
		Disk:      func() (int, error) { return DiskUsage("/") },
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Compose builds the full briefing.
func (c *Composer) Compose(ctx context.Context) string {
	s := c.Settings()
	now := c.Now()

	var b strings.Builder
	fmt.Fprintf(&b, "%s, %s. Today is %s.", Greeting(now), s.Rank(), now.Format("Monday, January 02"))

	if c.Weather != nil {
		if w := c.Weather(ctx, s.Weather()); w != "" {
			fmt.Fprintf(&b, " The current weather is %s.", w)
		}
	}

	if c.Disk != nil {
		if pct, err := c.Disk(); err != nil {
			appLog.Error("disk usage unavailable", err)
		} else {
			b.WriteString(" System disk usage is at " + strconv.Itoa(pct) + "%.")
		}
	}

	if c.Battery != nil {
		if st, err := c.Battery.Read(ctx); err != nil {
			appLog.Warn("battery read failed", "err", err.Error())
		} else {
			b.WriteString(" " + st.Sentence())
		}
	}

	b.WriteString(" " + c.quote(s))
	return b.String()
}

func (c *Composer) quote(s settings.Settings) string {
	path := s.PersonalityPathOrDefault(c.Workspace)
	p, err := settings.LoadPersonality(path)
	if err != nil {
		appLog.Debug("personality unavailable", "path", path, "err", err.Error())
	}
	return s.Expand(settings.Pick(c.Rand, p.StartupQuotes, settings.DefaultQuote))
}

// Briefer speaks the briefing while holding a lock file, so the terminal UI
// can tell that audio is busy.
type Briefer struct {
	Composer *Composer
	Speaker  speech.Speaker
	LockFile string
}

// Run composes and speaks the briefing. The lock file holds the process id
// and is removed afterwards even if speaking fails.
func (b *Briefer) Run(ctx context.Context) error {
	text := b.Composer.Compose(ctx)

	if b.LockFile != "" {
		if err := os.WriteFile(b.LockFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			appLog.Error("briefing lock write failed", err, "path", b.LockFile)
		}
		defer func() {
			if err := os.Remove(b.LockFile); err != nil && !os.IsNotExist(err) {
				appLog.Error("briefing lock remove failed", err, "path", b.LockFile)
			}
		}()
	}

	return b.Speaker.Speak(ctx, text)
}
