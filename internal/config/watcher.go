package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives each accepted config revision together with its
// [Diff] against the previous one. It runs on the watcher goroutine.
type ReloadFunc func(next *Config, d ConfigDiff)

// Watcher polls the config file and hands effective changes to a
// [ReloadFunc]. A revision is accepted when its bytes changed and it parses
// and validates; anything else leaves the current config in place.
//
// Only [ConfigDiff.HotReloadable] parts reach the running process. Sections
// listed in [ConfigDiff.RestartRequired] are logged once per revision and
// otherwise ignored, and a revision whose diff is empty (comments, key order)
// is adopted silently without calling the ReloadFunc.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and starts polling it. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	rev, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.sum = rev.cfg, rev.mtime, rev.sum

	go w.poll()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// revision is one parsed state of the config file.
type revision struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	rev, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config, new revision is invalid", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.mtime = rev.mtime
	if rev.sum == w.sum {
		w.mu.Unlock()
		return
	}
	w.current, w.sum = rev.cfg, rev.sum
	w.mu.Unlock()

	d := Diff(prev, rev.cfg)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: changes take effect only after a restart",
			"path", w.path, "sections", d.RestartRequired)
	}
	if !d.HotReloadable() {
		slog.Debug("config watcher: revision has no live-applicable changes", "path", w.path)
		return
	}

	slog.Info("config watcher: applying configuration changes",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"destinations_changed", d.DestinationsChanged,
	)
	if w.onReload != nil {
		w.onReload(rev.cfg, d)
	}
}

// read parses and validates the file. The checksum covers the raw bytes, so
// an environment variable change alone is not picked up until the file
// changes.
func (w *Watcher) read() (revision, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return revision{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return revision{}, err
	}
	cfg, err := parse(data)
	if err != nil {
		return revision{}, err
	}
	return revision{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
