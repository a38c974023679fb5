package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"titanfabric/internal/logging"
)

// reloadDebounce lets rapid editor save bursts settle before a reload runs.
const reloadDebounce = 1 * time.Second

// watcher hot-reloads configuration when source files change. A failed
// reload emits EventError, retains the previous in-memory value and appends
// a rejected-reload audit record to the history.
type watcher struct {
	mu          sync.Mutex
	mgr         *Manager
	fw          *fsnotify.Watcher
	debounceMap map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// StartWatch begins watching the manager's source directories. It is
// non-blocking; Stop or context cancellation ends it.
func (m *Manager) StartWatch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil && m.watcher.isRunning() {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w := &watcher{
		mgr:         m,
		fw:          fw,
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		running:     true,
	}

	layers := []string{"defaults"}
	if m.env != "" {
		layers = append(layers, m.env)
	}
	for _, base := range layers {
		for _, dir := range []string{
			filepath.Join(m.root, base),
			filepath.Join(m.root, base, "phases"),
			filepath.Join(m.root, base, "services"),
		} {
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			if err := fw.Add(dir); err != nil {
				logging.ConfigWarn("watch %s failed: %v", dir, err)
			}
		}
	}

	m.watcher = w
	go w.run(ctx)
	logging.Config("hot reload watching %s", m.root)
	return nil
}

// StopWatch stops the watcher and waits for its goroutine.
func (m *Manager) StopWatch() {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (w *watcher) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *watcher) stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.fw.Close()
	logging.Config("hot reload stopped")
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	flush := time.NewTicker(250 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.ConfigError("watcher error: %v", err)
		case <-flush.C:
			w.processSettled()
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= reloadDebounce {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.mgr.reloadPath(path)
	}
}

// classifyPath maps a watched file path onto its (type,key).
func (m *Manager) classifyPath(path string) (ConfigType, string, bool) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := strings.TrimSuffix(parts[len(parts)-1], filepath.Ext(parts[len(parts)-1]))
	switch {
	case len(parts) == 2 && name == BrainKey:
		return TypeBrain, BrainKey, true
	case len(parts) == 3 && parts[1] == "phases":
		return TypePhase, name, true
	case len(parts) == 3 && parts[1] == "services":
		return TypeService, name, true
	}
	return "", "", false
}

// reloadPath re-executes the load path owning a changed file. The previous
// value survives any failure.
func (m *Manager) reloadPath(path string) {
	t, key, ok := m.classifyPath(path)
	if !ok {
		return
	}
	logging.Config("reloading %s/%s after change to %s", t, key, path)

	switch t {
	case TypeBrain:
		m.mu.RLock()
		override := m.brainOverride
		old := m.brain
		m.mu.RUnlock()
		cfg, res, err := m.LoadBrain(override)
		m.finishReload(t, key, old, cfg, res, err)

	case TypePhase:
		m.mu.RLock()
		override := m.phaseOverrides[key]
		old := clonePhase(m.phases[key])
		m.mu.RUnlock()
		cfg, res, err := m.LoadPhase(key, override)
		m.finishReload(t, key, old, cfg, res, err)

	case TypeService:
		m.mu.RLock()
		override := m.serviceOverride[key]
		old := m.services[key]
		m.mu.RUnlock()
		cfg, res, err := m.LoadService(key, override)
		m.finishReload(t, key, old, cfg, res, err)
	}
}

func (m *Manager) finishReload(t ConfigType, key string, old, cfg interface{}, res LoadResult, err error) {
	if err != nil {
		logging.ConfigError("reload of %s/%s rejected: %v", t, key, err)
		m.events.emit(Event{Kind: EventError, Type: t, Key: key, Old: old, Err: err})
		if _, aerr := m.history.Append(t, key, res.Config, "watcher",
			"reload rejected: "+err.Error(), []string{"reload-rejected"}); aerr != nil {
			logging.ConfigWarn("audit append failed for %s/%s: %v", t, key, aerr)
		}
		return
	}
	m.events.emit(Event{Kind: EventReloaded, Type: t, Key: key, Old: old, New: cfg})
}
