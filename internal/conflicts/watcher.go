package conflicts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadTableFile replaces the table with the one at path
func (s *Screener) LoadTableFile(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		return err
	}
	s.SetTable(t)
	s.logger.Info("Cross-reactivity table loaded",
		zap.String("path", path),
		zap.Int("classes", t.Len()),
	)
	return nil
}

// Watch reloads the table whenever the file at path changes, until ctx is
// cancelled. A file that fails to parse leaves the current table in place.
func (s *Screener) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// editors often replace the file, so watch its directory
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := s.LoadTableFile(target); err != nil {
					s.logger.Warn("Keeping previous cross-reactivity table",
						zap.String("path", target),
						zap.Error(err),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Table watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
