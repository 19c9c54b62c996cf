package speech

import (
	"context"
	"math/rand"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"lcarsvoice/internal/config"
	appLog "lcarsvoice/internal/log"
)

// Sound effect file names inside the sounds directory.
const (
	PauseSound  = "pause.mp3"
	ResumeSound = "unpause.mp3"
)

// AckSounds are played at random when spoken acknowledgements are disabled.
var AckSounds = []string{"acknowledged1.mp3", "acknowledged2.mp3", "acknowledged3.mp3"}

// SFX plays short sound files through an external player without waiting
// for them to finish, so a chime and speech can overlap.
type SFX struct {
	Bin  string
	Args []string
	Dir  string

	mu  sync.Mutex
	rnd *rand.Rand

	// start launches the player; replaceable in tests.
	start func(bin string, args []string) error
}

// NewSFX builds an SFX player from the config.
func NewSFX(cfg *config.Config) *SFX {
	return &SFX{
		Bin:  cfg.ResolveBin(cfg.Speech.PlayerBin),
		Args: cfg.Speech.PlayerArgs,
		Dir:  cfg.Speech.SoundsDir,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Play plays one of names, picked at random among the files that exist.
// Missing files are ignored; it returns the path played or "".
func (s *SFX) Play(_ context.Context, names ...string) string {
	present := make([]string, 0, len(names))
	for _, n := range names {
		p := n
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.Dir, n)
		}
		if exists(p) {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return ""
	}

	s.mu.Lock()
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	target := present[s.rnd.Intn(len(present))]
	s.mu.Unlock()

	args := append(append([]string{}, s.Args...), target)
	start := s.start
	if start == nil {
		start = startDetached
	}
	if err := start(s.Bin, args); err != nil {
		appLog.Error("sfx play failed", err, "path", target)
		return ""
	}
	return target
}

// startDetached starts bin and reaps it in the background. It is not bound
// to a request context because effects are short and should finish even if
// the loop moves on.
func startDetached(bin string, args []string) error {
	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
