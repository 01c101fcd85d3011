package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// GoalWatcher watches a JSON file holding the goal embedding (a flat array
// of floats) and delivers updated vectors to a callback. The file's parent
// directory is watched so atomic rename-into-place writes are seen.
type GoalWatcher struct {
	path    string
	log     *slog.Logger
	onGoal  func([]float32)
	watcher *fsnotify.Watcher
}

// NewGoalWatcher creates a watcher for the given path. The callback runs on
// the watcher goroutine.
func NewGoalWatcher(path string, onGoal func([]float32), logger *slog.Logger) (*GoalWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("goal watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("goal watcher: watch %s: %w", filepath.Dir(path), err)
	}
	return &GoalWatcher{
		path:    path,
		log:     logger,
		onGoal:  onGoal,
		watcher: w,
	}, nil
}

// Run loads the current file once, then delivers updates until the context
// is cancelled.
func (g *GoalWatcher) Run(ctx context.Context) {
	defer g.watcher.Close()

	if vec, err := loadGoalFile(g.path); err == nil {
		g.onGoal(vec)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(g.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			vec, err := loadGoalFile(g.path)
			if err != nil {
				g.log.Warn("goal embedding reload failed",
					slog.String("path", g.path),
					slog.String("error", err.Error()),
				)
				continue
			}
			g.log.Info("goal embedding updated",
				slog.String("path", g.path),
				slog.Int("dims", len(vec)),
			)
			g.onGoal(vec)
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.log.Warn("goal watcher error", slog.String("error", err.Error()))
		}
	}
}

func loadGoalFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("parse goal embedding: %w", err)
	}
	return vec, nil
}
