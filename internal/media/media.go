// Package media controls music playback through playerctl.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// Action is a playerctl verb.
type Action string

const (
	Play     Action = "play"
	Pause    Action = "pause"
	Next     Action = "next"
	Previous Action = "previous"
	Stop     Action = "stop"
)

type phrase struct {
	text   string
	action Action
}

// phrases are checked in order.
var phrases = []phrase{
	{"pause music", Pause},
	{"resume music", Play},
	{"play music", Play},
	{"next track", Next},
	{"next song", Next},
	{"previous track", Previous},
	{"previous song", Previous},
	{"stop music", Stop},
}

// MatchPhrase returns the action whose phrase text contains.
func MatchPhrase(text string) (Action, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p.text) {
			return p.action, true
		}
	}
	return "", false
}

// Controller runs playerctl.
type Controller struct {
	Bin string

	run func(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// NewController builds a Controller from the config.
func NewController(cfg *config.Config) *Controller {
	return &Controller{Bin: cfg.ResolveBin(cfg.Media.PlayerctlBin)}
}

// Do performs a on the active player.
func (c *Controller) Do(ctx context.Context, a Action) error {
	run := c.run
	if run == nil {
		run = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, bin, args...).CombinedOutput()
		}
	}
	out, err := run(ctx, c.Bin, string(a))
	if err != nil {
		return fmt.Errorf("media: playerctl %s: %w: %s", a, err, strings.TrimSpace(string(out)))
	}
	appLog.Info("media control", "action", string(a))
	return nil
}
