// Package hotdeploy rescans the plugin directory while the host runs.
//
// A Poller asks its Scanner for new plugins on a fixed interval and,
// when a directory is watched, shortly after files in it change. Every
// scan happens on the goroutine running Run, so scans never overlap.
package hotdeploy

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for Poller options.
const (
	DefaultInterval = 5 * time.Second
	DefaultDebounce = 250 * time.Millisecond
)

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("poller is already running")
)

// Scanner installs plugins that appeared since the last scan and
// reports how many it found.
type Scanner interface {
	ScanForNewPlugins(ctx context.Context) (int, error)
}

// Stats describes the poller's activity.
type Stats struct {
	Scans     int64
	Found     int64
	Errors    int64
	LastScan  time.Time
	LastError error
	Watching  bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the time between periodic scans. Zero or less
// disables periodic scans.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithWatchDir makes the poller scan shortly after files in dir change.
func WithWatchDir(dir string) Option {
	return func(p *Poller) {
		p.watchDir = dir
	}
}

// WithDebounce sets how long the directory must stay quiet before a
// change triggers a scan.
func WithDebounce(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Poller drives hot deployment.
type Poller struct {
	scanner  Scanner
	interval time.Duration
	watchDir string
	debounce time.Duration
	logger   *slog.Logger
	trigger  chan struct{}

	mu      sync.Mutex
	running bool
	stats   Stats
}

// New creates a poller for scanner.
func New(scanner Scanner, opts ...Option) *Poller {
	p := &Poller{
		scanner:  scanner,
		interval: DefaultInterval,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trigger requests a scan as soon as possible. Requests made while one
// is pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the poller's activity.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run scans until ctx is done. A directory that cannot be watched is
// logged and the poller falls back to periodic scans.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.stats.Watching = false
		p.mu.Unlock()
	}()

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if p.watchDir != "" {
		w, err := p.watch()
		if err != nil {
			p.logger.Warn("cannot watch plugin directory, polling only",
				"dir", p.watchDir,
				"error", err,
			)
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}

	// settle fires once the directory has been quiet for the debounce
	// delay.
	settle := time.NewTimer(p.debounce)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	p.logger.Info("hot deploy started",
		"interval", p.interval,
		"dir", p.watchDir,
		"watching", events != nil,
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("hot deploy stopped")
			return nil
		case <-tick:
			p.scan(ctx)
		case <-p.trigger:
			p.scan(ctx)
		case <-settle.C:
			p.scan(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if relevant(ev) {
				p.logger.Debug("plugin directory changed", "path", ev.Name, "op", ev.Op.String())
				settle.Reset(p.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.logger.Warn("plugin directory watcher error", "error", err)
		}
	}
}

func (p *Poller) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(p.watchDir); err != nil {
		_ = w.Close()
		return nil, err
	}
	p.mu.Lock()
	p.stats.Watching = true
	p.mu.Unlock()
	return w, nil
}

func (p *Poller) scan(ctx context.Context) {
	start := time.Now()
	n, err := p.scanner.ScanForNewPlugins(ctx)

	p.mu.Lock()
	p.stats.Scans++
	p.stats.Found += int64(n)
	p.stats.LastScan = start
	if err != nil {
		p.stats.Errors++
		p.stats.LastError = err
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("plugin scan failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("plugin scan",
			"found", n,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

// relevant drops permission changes and hidden files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return !strings.HasPrefix(filepath.Base(ev.Name), ".")
}
