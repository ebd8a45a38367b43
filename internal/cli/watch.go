package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/viewport"
)

// ConfigWatcher reloads the LOD table when the config file changes, so the
// detail ladder can be tuned against a running session.
type ConfigWatcher struct {
	path    string
	session *viewport.Session
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConfigWatcher watches the config file at path. The containing
// directory is watched rather than the file itself: editors replace files
// on save, which would silently drop a file-level watch.
func NewConfigWatcher(path string, session *viewport.Session, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &ConfigWatcher{
		path:    path,
		session: session,
		logger:  logger,
		watcher: watcher,
	}, nil
}

// Start begins watching in the background.
func (w *ConfigWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.watchLoop(ctx)
}

// Stop stops the watcher and waits for the loop to finish.
func (w *ConfigWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
	w.wg.Wait()
}

func (w *ConfigWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the config file and applies the LOD table. A broken file
// is logged and skipped; the session keeps its current table.
func (w *ConfigWatcher) reload(ctx context.Context) {
	cfg, err := LoadConfigFromFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	table, err := cfg.BuildLodTable()
	if err != nil {
		w.logger.Warn("config reload: bad lod table", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.session.SetLodTable(ctx, table)
	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.Int("lod_levels", table.Levels()))
}
