// Package scanner tracks the plugin artifacts in a deployment directory.
//
// A Scanner remembers every artifact it has seen together with its
// modification time. Each Scan reports only what is new or changed since
// the previous call, which is what hot deployment polls for:
//
//	s := scanner.New("/opt/app/plugins")
//	for _, u := range s.Scan() {
//		deploy(u.Path())
//	}
//
// Scanner is not safe for concurrent use. Callers serialise Scan.
package scanner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DeploymentUnit is an artifact on disk and the modification time it had
// when it was observed. Units are identified by absolute path.
type DeploymentUnit struct {
	path    string
	modTime time.Time
}

// NewDeploymentUnit stats path and captures its modification time.
func NewDeploymentUnit(path string) (*DeploymentUnit, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return &DeploymentUnit{path: abs, modTime: info.ModTime()}, nil
}

// Path returns the absolute path.
func (u *DeploymentUnit) Path() string {
	return u.path
}

// Name returns the file name.
func (u *DeploymentUnit) Name() string {
	return filepath.Base(u.path)
}

// ModTime returns the modification time captured when the unit was
// created.
func (u *DeploymentUnit) ModTime() time.Time {
	return u.modTime
}

// Equal reports whether both units refer to the same path.
func (u *DeploymentUnit) Equal(other *DeploymentUnit) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.path == other.path
}

// String returns the path and modification time.
func (u *DeploymentUnit) String() string {
	return fmt.Sprintf("%s (%s)", u.path, u.modTime.Format(time.RFC3339Nano))
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for I/O problems.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scanner diffs the contents of one directory between calls.
type Scanner struct {
	dir    string
	logger *slog.Logger

	// Tracked units keyed by absolute path
	units map[string]*DeploymentUnit
}

// New creates a scanner for dir. The directory does not need to exist
// yet; scans of a missing directory report nothing.
func New(dir string, opts ...Option) *Scanner {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	s := &Scanner{
		dir:    dir,
		logger: slog.Default(),
		units:  make(map[string]*DeploymentUnit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the scanned directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan returns the units that are new or modified since the last scan,
// sorted by file name. Units whose files disappeared or became
// unreadable are forgotten. A directory that cannot be listed is logged
// and yields an empty result.
func (s *Scanner) Scan() []*DeploymentUnit {
	s.forgetMissing()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("cannot list plugin directory", "dir", s.dir, "error", err)
		return nil
	}

	var changed []*DeploymentUnit
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}

		tracked, ok := s.units[path]
		if ok && !info.ModTime().After(tracked.modTime) {
			continue
		}

		u := &DeploymentUnit{path: path, modTime: info.ModTime()}
		s.units[path] = u
		changed = append(changed, u)
		if ok {
			s.logger.Debug("deployment unit modified", "path", path)
		} else {
			s.logger.Debug("deployment unit found", "path", path)
		}
	}
	return changed
}

// forgetMissing drops units whose file no longer exists or cannot be
// read.
func (s *Scanner) forgetMissing() {
	for path := range s.units {
		if readable(path) {
			continue
		}
		s.logger.Debug("deployment unit gone", "path", path)
		delete(s.units, path)
	}
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Units returns every tracked unit, sorted by path.
func (s *Scanner) Units() []*DeploymentUnit {
	out := make([]*DeploymentUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *DeploymentUnit) int {
		return strings.Compare(a.path, b.path)
	})
	return out
}

// LocateDeploymentUnit returns the tracked unit for file, or nil.
func (s *Scanner) LocateDeploymentUnit(file string) *DeploymentUnit {
	return s.units[s.key(file)]
}

// Clear forgets file so the next scan reports it again.
func (s *Scanner) Clear(file string) {
	delete(s.units, s.key(file))
}

// Reset forgets every unit.
func (s *Scanner) Reset() {
	clear(s.units)
}

func (s *Scanner) key(file string) string {
	if !filepath.IsAbs(file) {
		if abs, err := filepath.Abs(file); err == nil {
			return abs
		}
	}
	return filepath.Clean(file)
}
