package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForSocket blocks until the socket at path exists or ctx is done. The
// editor is spawned by an outside collaborator and creates its listen socket
// asynchronously; waiting on the filesystem event beats a dial/retry spin.
func WaitForSocket(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rpc: watch for %s: %w", path, err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("rpc: watch %s: %w", dir, err)
	}

	// Re-check once the watch is in place: the socket may have appeared
	// between the Stat above and Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("rpc: socket watcher closed")
			}
			if ev.Name == path && ev.Op.Has(fsnotify.Create) {
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("rpc: socket watcher closed")
			}
			slog.Warn("[rpc] socket watch error", "err", werr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
