package taskregistry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/taskfolder"
)

// debounceWindow coalesces bursts of filesystem events into one sync.
const debounceWindow = 500 * time.Millisecond

// Watcher triggers registry reconciliation when a project's task tree
// changes on disk. It is optional; SyncWithFileSystem remains callable
// directly.
type Watcher struct {
	registry *Registry
	logger   *logger.Logger

	projectPath string
	projectID   string

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over the project's task tree. Every milestone
// status folder present at start is watched; folders created later are picked
// up when the tree root reports them.
func NewWatcher(registry *Registry, projectPath, projectID string, log *logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		registry:    registry,
		logger:      log.WithFields(zap.String("component", "task-watcher"), zap.String("project_id", projectID)),
		projectPath: projectPath,
		projectID:   projectID,
		fsw:         fsw,
		done:        make(chan struct{}),
	}

	root := taskfolder.TasksDir(projectPath)
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		// Nothing to watch yet; the tree appears once tasks are generated.
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("Failed to watch folder", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// Start runs the watch loop until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if _, err := w.registry.SyncWithFileSystem(ctx, w.projectPath, w.projectID); err != nil {
				w.logger.Warn("Task tree sync failed", zap.Error(err))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// Stop terminates the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsw.Close()
	<-w.done
}
