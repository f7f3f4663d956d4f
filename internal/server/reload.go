package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/pipeline"
	"github.com/toolgate/toolgate/internal/rbac"
)

// reloadDebounce is how long the reloader waits after the last write
// before loading. Editors fire several events per save.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the rule table file and hot-swaps it into the pipeline.
// A broken edit keeps the previous table: reload failures are logged, never
// applied.
type Reloader struct {
	watcher  *fsnotify.Watcher
	pipeline *pipeline.Pipeline
	path     string
	logger   *zap.Logger

	// debounce is swappable in tests.
	debounce time.Duration
}

// NewReloader creates a file watcher over the rule table path.
func NewReloader(p *pipeline.Pipeline, path string, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("rule table %q not watchable: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}

	return &Reloader{
		watcher:  watcher,
		pipeline: p,
		path:     path,
		logger:   logger.Named("reload"),
		debounce: reloadDebounce,
	}, nil
}

// Run watches for changes and reloads the table. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	table, err := rbac.LoadTable(r.path)
	if err != nil {
		r.logger.Error("hot-reload failed, keeping previous table",
			zap.String("path", r.path), zap.Error(err))
		return
	}
	r.pipeline.SwapTable(table)
	r.logger.Info("rule table reloaded", zap.String("hash", table.Hash()))
}
