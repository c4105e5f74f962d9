package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startTokenWatcher reloads the bearer token whenever its file is written or
// replaced. The parent directory is watched so atomic renames are seen too.
func (s *Session) startTokenWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(s.tokens.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return fmt.Errorf("ensure token dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.fsnotifyLoop()
	return nil
}

// fsnotifyLoop processes token file changes.
func (s *Session) fsnotifyLoop() {
	defer s.wg.Done()

	target := filepath.Clean(s.tokens.Path())
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				s.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				if err := s.tokens.Reload(); err != nil {
					s.log(LogLevelError, "token reload failed: %v", err)
					continue
				}
				s.log(LogLevelInfo, "token reloaded from %s", target)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}
