package settings

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	appLog "lcarsvoice/internal/log"
)

// CommandStore holds the current commands.json and reloads it when the file
// changes on disk.
type CommandStore struct {
	path string

	mu   sync.RWMutex
	cmds Commands
}

// NewCommandStore loads path once. A load failure leaves the store empty and
// is logged; the file may appear later and will be picked up by Watch.
func NewCommandStore(path string) *CommandStore {
	s := &CommandStore{path: path}
	s.Reload()
	return s
}

// Commands returns the current command list.
func (s *CommandStore) Commands() Commands {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cmds
}

// Reload re-reads the commands file. On error the previous commands are kept.
func (s *CommandStore) Reload() {
	cmds, err := LoadCommands(s.path)
	if err != nil {
		appLog.Error("commands load failed", err, "path", s.path)
		return
	}
	s.mu.Lock()
	s.cmds = cmds
	s.mu.Unlock()
	appLog.Info("commands loaded", "path", s.path, "count", len(cmds))
}

// Watch reloads the store whenever its file is written, created or renamed
// into place. It blocks until ctx is done.
func (s *CommandStore) Watch(ctx context.Context) error {
	return WatchFiles(ctx, []string{s.path}, func(string) { s.Reload() })
}

// WatchFiles calls onChange with the path of any watched file that is
// written, created or renamed into place. Parent directories are watched
// rather than the files themselves because editors and the UI replace files
// atomically, which drops a direct file watch.
func WatchFiles(ctx context.Context, paths []string, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	targets := make(map[string]string, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		targets[filepath.Clean(abs)] = p
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			appLog.Error("watch: cannot watch directory", err, "dir", dir)
		}
	}

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(relevant) {
				continue
			}
			orig, ok := targets[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			appLog.Debug("watch: file changed", "path", orig, "op", ev.Op.String())
			onChange(orig)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("watch: fsnotify error", err)
		}
	}
}
