package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"go.sniproxy.dev/sniproxy/internal/backend"
)

// ReloadResult is delivered to a Watcher's callback once per reload
// attempt, successful or not, so a caller can log a bad edit without the
// watch loop dying over it.
type ReloadResult struct {
	Table *backend.Table
	Err   error
}

// Watch reloads path immediately, then again every time the file (or the
// directory entry it resolves to, for editors that replace-by-rename)
// changes, delivering each attempt's outcome to onReload until ctx is
// canceled. It returns once the underlying fsnotify watcher fails to start;
// after that, Reload must be driven out of band (e.g. on SIGUSR1).
func Watch(ctx context.Context, path string, onReload func(ReloadResult)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	onReload(Reload(path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			onReload(Reload(path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onReload(ReloadResult{Err: err})
		}
	}
}

// Reload is Load wrapped into a ReloadResult, for both Watch's internal use
// and a signal handler driving an out-of-band reload (SIGUSR1).
func Reload(path string) ReloadResult {
	t, err := Load(path)
	return ReloadResult{Table: t, Err: err}
}
