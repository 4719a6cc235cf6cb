package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/srg/blefit/internal/filter"
	"github.com/srg/blefit/internal/groutine"
)

// DefaultReloadDelay is how long the watcher waits for a burst of file events to settle.
const DefaultReloadDelay = 200 * time.Millisecond

var _ filter.SpecSource = (*Watcher)(nil)

// Watcher keeps the configuration in sync with its file and announces every successful
// reload. It is the filter-set source of the monitor.
type Watcher struct {
	path      string
	logger    *logrus.Logger
	fsw       *fsnotify.Watcher
	debounced func(func())
	group     *groutine.Group

	mu        sync.RWMutex
	cfg       *Config
	observers map[int]func()
	nextID    int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	delay time.Duration
}

// WithReloadDelay overrides DefaultReloadDelay.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		o.delay = d
	}
}

// NewWatcher loads path and starts watching it. Its directory is watched rather than the file
// so that editors replacing the file are noticed.
func NewWatcher(path string, logger *logrus.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	o := watcherOptions{delay: DefaultReloadDelay}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:      abs,
		logger:    logger,
		fsw:       fsw,
		debounced: debounce.New(o.delay),
		group:     groutine.NewGroup(context.Background()),
		cfg:       cfg,
		observers: make(map[int]func()),
	}
	w.group.Go("config-watcher", w.run)
	return w, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Specs returns the configured filters. Entries that do not convert are logged and skipped.
func (w *Watcher) Specs() []filter.Spec {
	specs, err := w.Config().FilterSpecs()
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring invalid filters in config")
	}
	return specs
}

// OnChange registers fn to be called after every successful reload.
func (w *Watcher) OnChange(fn func()) (cancel func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.observers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.observers, id)
		w.mu.Unlock()
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.group.Stop()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	log := w.logger.WithFields(logrus.Fields{
		"goroutine": groutine.GetName(ctx),
		"path":      w.path,
	})
	log.Debug("Watching config file")
	defer log.Debug("Stopped watching config file")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.WithFields(logrus.Fields{
				"path": ev.Name,
				"op":   ev.Op.String(),
			}).Debug("Config file event")
			w.debounced(w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Keeping previous config")
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	observers := make([]func(), 0, len(w.observers))
	for _, fn := range w.observers {
		observers = append(observers, fn)
	}
	w.mu.Unlock()

	w.logger.WithField("filters", len(cfg.Filters)).Info("Config reloaded")
	for _, fn := range observers {
		fn()
	}
}
