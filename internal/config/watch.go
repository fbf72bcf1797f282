package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadConfig names the hot-reloadable side files and the callbacks to
// run when they change. An empty path disables that side.
type ReloadConfig struct {
	// PlanPath is the rate-plan YAML file.
	PlanPath string
	// PolicyDir holds the .rego outreach policies.
	PolicyDir string
	// OnPlan runs after the plan file is created or rewritten.
	OnPlan func()
	// OnPolicy runs after any policy file changes.
	OnPolicy func() error
}

// Watcher re-reads the rate-plan file and the policy directory when
// they change on disk, so operators can tune provider limits and
// outreach rules without a restart. It watches the containing
// directories rather than the files themselves, which survives the
// rename-and-replace dance editors and config pushers do.
type Watcher struct {
	cfg       ReloadConfig
	planPath  string
	policyDir string
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	stopCh    chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWatcher builds a watcher over the paths in cfg.
func NewWatcher(cfg ReloadConfig, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		cfg:       cfg,
		planPath:  absClean(cfg.PlanPath),
		policyDir: absClean(cfg.PolicyDir),
		watcher:   fw,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Event names arrive relative when the watch path was relative, so
// everything is compared in absolute form.
func absClean(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Start registers the watch paths and begins dispatching reloads.
// Calling Start twice is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	watched := 0
	if w.cfg.PlanPath != "" {
		dir := filepath.Dir(w.planPath)
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched++
	}
	if w.policyDir != "" {
		if err := w.watcher.Add(w.policyDir); err != nil {
			return fmt.Errorf("watch %s: %w", w.policyDir, err)
		}
		watched++
	}

	w.started = true
	go w.watchLoop()
	w.logger.Info("Config watcher started",
		zap.String("plan_path", w.cfg.PlanPath),
		zap.String("policy_dir", w.cfg.PolicyDir),
		zap.Int("watched_dirs", watched),
	)
	return nil
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	close(w.stopCh)
	w.started = false
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	name := absClean(event.Name)
	switch {
	case w.planPath != "" && name == w.planPath:
		w.logger.Info("Rate plans changed, reloading",
			zap.String("file", event.Name),
			zap.String("op", event.Op.String()),
		)
		if w.cfg.OnPlan != nil {
			w.cfg.OnPlan()
		}
	case w.policyDir != "" && filepath.Ext(name) == ".rego" && filepath.Dir(name) == w.policyDir:
		w.logger.Info("Outreach policies changed, reloading",
			zap.String("file", event.Name),
			zap.String("op", event.Op.String()),
		)
		if w.cfg.OnPolicy != nil {
			if err := w.cfg.OnPolicy(); err != nil {
				w.logger.Error("Policy reload failed",
					zap.String("file", event.Name),
					zap.Error(err),
				)
			}
		}
	}
}

