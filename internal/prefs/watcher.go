package prefs

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"quickswitch/internal/util"
)

const debounceWindow = 250 * time.Millisecond

// Watch reloads the store whenever its database file changes on disk, so
// edits made outside the daemon (web interface restarts, a sqlite shell)
// take effect without a restart. Blocks until the context is cancelled.
//
// The parent directory is watched rather than the file itself because sqlite
// writes through journal files and atomic renames.
func Watch(ctx context.Context, store *Store, logger *util.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create preference watcher")
	}
	defer watcher.Close()

	target := filepath.Clean(store.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errors.Wrap(err, "watch preference directory")
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Journal and WAL writes share the database file's prefix.
			if !strings.HasPrefix(filepath.Clean(event.Name), target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := store.Reload(); err != nil {
				logger.Warnf("preference reload failed: %v", err)
			} else {
				logger.Debugf("preferences reloaded after external change")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("preference watcher error: %v", err)
		}
	}
}
