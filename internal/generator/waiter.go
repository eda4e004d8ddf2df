package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"visualqa/internal/artifacts"
)

// WaitForPayload blocks until the payload at path exists and passes the
// validating parse, or ctx expires. A filesystem watch catches the write
// promptly; a ticker backstops watchers that miss events (editors and
// services that write via rename often defeat them).
func WaitForPayload(ctx context.Context, path string, log *zap.Logger) (*artifacts.Payload, error) {
	if p, err := artifacts.LoadPayload(path); err == nil {
		return p, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("payload watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("payload dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case ev := <-watcher.Events:
			if ev.Name != path {
				continue
			}
		case err := <-watcher.Errors:
			log.Debug("payload watch error", zap.Error(err))
			continue
		case <-ticker.C:
		}

		p, err := artifacts.LoadPayload(path)
		if err == nil {
			return p, nil
		}
		if _, statErr := os.Stat(path); statErr == nil {
			// Present but not yet valid: likely a partial write.
			log.Debug("payload not ready", zap.Error(err))
		}
	}
}
