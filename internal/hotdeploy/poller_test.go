package hotdeploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type countingScanner struct {
	mu     sync.Mutex
	calls  int
	active int
	max    int
	found  int
	err    error
}

func (s *countingScanner) ScanForNewPlugins(context.Context) (int, error) {
	s.mu.Lock()
	s.calls++
	s.active++
	if s.active > s.max {
		s.max = s.active
	}
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	return s.found, s.err
}

func (s *countingScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs p in the background and stops it when the test ends.
func start(t *testing.T, p *Poller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPollerScansOnInterval(t *testing.T) {
	s := &countingScanner{found: 2}
	p := New(s, WithInterval(10*time.Millisecond), WithLogger(quietLogger()))
	start(t, p)

	eventually(t, "three scans", func() bool { return p.Stats().Scans >= 3 })

	stats := p.Stats()
	if stats.Scans < 3 {
		t.Errorf("Stats().Scans = %d, want >= 3", stats.Scans)
	}
	if stats.Found != stats.Scans*2 {
		t.Errorf("Stats().Found = %d, want %d", stats.Found, stats.Scans*2)
	}
	if stats.LastScan.IsZero() {
		t.Error("Stats().LastScan is zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max != 1 {
		t.Errorf("concurrent scans = %d, want 1", s.max)
	}
}

func TestPollerTrigger(t *testing.T) {
	s := &countingScanner{}
	p := New(s, WithInterval(0), WithLogger(quietLogger()))
	start(t, p)

	p.Trigger()
	eventually(t, "triggered scan", func() bool { return s.Calls() == 1 })

	p.Trigger()
	eventually(t, "second triggered scan", func() bool { return s.Calls() == 2 })
}

func TestPollerRecordsErrors(t *testing.T) {
	errScan := errors.New("scan failed")
	s := &countingScanner{err: errScan}
	p := New(s, WithInterval(0), WithLogger(quietLogger()))
	start(t, p)

	p.Trigger()
	eventually(t, "failed scan", func() bool { return p.Stats().Errors == 1 })
	if err := p.Stats().LastError; !errors.Is(err, errScan) {
		t.Errorf("Stats().LastError = %v, want %v", err, errScan)
	}
}

func TestPollerWatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	s := &countingScanner{}
	p := New(s,
		WithInterval(0),
		WithWatchDir(dir),
		WithDebounce(20*time.Millisecond),
		WithLogger(quietLogger()),
	)
	start(t, p)
	eventually(t, "watcher", func() bool { return p.Stats().Watching })

	for i := range 3 {
		data := []byte("<plugin key=\"a\"/>")
		if err := os.WriteFile(filepath.Join(dir, "a.xml"), data, 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v (write %d)", err, i)
		}
	}
	eventually(t, "scan after change", func() bool { return s.Calls() >= 1 })

	time.Sleep(60 * time.Millisecond)
	if n := s.Calls(); n > 2 {
		t.Errorf("scans after a burst of writes = %d, want them coalesced", n)
	}
}

func TestPollerMissingWatchDir(t *testing.T) {
	s := &countingScanner{}
	p := New(s,
		WithInterval(10*time.Millisecond),
		WithWatchDir(filepath.Join(t.TempDir(), "missing")),
		WithLogger(quietLogger()),
	)
	start(t, p)

	eventually(t, "periodic scan", func() bool { return s.Calls() >= 1 })
	if p.Stats().Watching {
		t.Error("Stats().Watching = true for a missing directory")
	}
}

func TestPollerRunTwice(t *testing.T) {
	p := New(&countingScanner{}, WithInterval(0), WithLogger(quietLogger()))
	start(t, p)

	eventually(t, "running", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.running
	})
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: "/p/a.jar", Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: "/p/a.xml", Op: fsnotify.Write}, true},
		{"remove", fsnotify.Event{Name: "/p/a.jar", Op: fsnotify.Remove}, true},
		{"chmod", fsnotify.Event{Name: "/p/a.jar", Op: fsnotify.Chmod}, false},
		{"hidden", fsnotify.Event{Name: "/p/.a.jar.swp", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relevant(tt.ev); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}
