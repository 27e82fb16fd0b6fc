package classloader

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// InnerArchivePattern selects the nested archives of a plugin.
const InnerArchivePattern = "META-INF/lib/*.jar"

// Archive is a zip archive held entirely in memory.
type Archive struct {
	name    string
	files   []*zip.File
	entries map[string]*zip.File
}

// NewArchive parses data as a zip archive.
func NewArchive(name string, data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", name, err)
	}

	a := &Archive{
		name:    name,
		files:   zr.File,
		entries: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if _, dup := a.entries[f.Name]; !dup {
			a.entries[f.Name] = f
		}
	}
	return a, nil
}

// OpenArchive reads the whole file and closes it before returning, so the
// archive holds no handle on path.
func OpenArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewArchive(path, data)
}

// Name returns the archive name.
func (a *Archive) Name() string {
	return a.name
}

// Has reports whether entry exists.
func (a *Archive) Has(entry string) bool {
	_, ok := a.entries[entry]
	return ok
}

// Open reads entry.
func (a *Archive) Open(entry string) ([]byte, error) {
	f, ok := a.entries[entry]
	if !ok {
		return nil, fmt.Errorf("%s!%s: %w", a.name, entry, fs.ErrNotExist)
	}
	return readZipFile(f)
}

// Match returns entries matching pattern in archive order.
func (a *Archive) Match(pattern string) []string {
	var names []string
	for _, f := range a.files {
		if ok, _ := path.Match(pattern, f.Name); ok {
			names = append(names, f.Name)
		}
	}
	return names
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// InnerArchives serves entries from archives nested inside an outer
// archive. The nested archives are extracted once, on first lookup, into
// a fresh directory under tempDir. Every lookup opens, reads and closes
// the extracted file.
type InnerArchives struct {
	outer   *Archive
	tempDir string
	logger  *slog.Logger

	once  sync.Once
	dir   string
	paths []string
	err   error
}

func newInnerArchives(outer *Archive, tempDir string, logger *slog.Logger) *InnerArchives {
	return &InnerArchives{outer: outer, tempDir: tempDir, logger: logger}
}

// Name returns the provider name.
func (i *InnerArchives) Name() string {
	return i.outer.Name() + "!META-INF/lib"
}

// Paths extracts the nested archives if needed and returns their paths
// in declaration order.
func (i *InnerArchives) Paths() ([]string, error) {
	i.once.Do(i.extract)
	return append([]string(nil), i.paths...), i.err
}

func (i *InnerArchives) extract() {
	names := i.outer.Match(InnerArchivePattern)
	if len(names) == 0 {
		return
	}

	dir := filepath.Join(i.tempDir, "plughost-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		i.err = fmt.Errorf("creating extraction dir: %w", err)
		return
	}
	i.dir = dir

	for n, name := range names {
		data, err := i.outer.Open(name)
		if err != nil {
			i.err = fmt.Errorf("extracting %s: %w", name, err)
			return
		}
		// index prefix keeps declaration order visible on disk
		dst := filepath.Join(dir, fmt.Sprintf("%03d-%s", n, path.Base(name)))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			i.err = fmt.Errorf("extracting %s: %w", name, err)
			return
		}
		i.paths = append(i.paths, dst)
	}

	i.logger.Debug("extracted inner archives",
		"archive", i.outer.Name(),
		"count", len(i.paths),
		"dir", dir,
	)
}

// Open searches the extracted archives in order.
func (i *InnerArchives) Open(entry string) ([]byte, error) {
	paths, err := i.Paths()
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		data, err := readFromZipFile(p, entry)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			i.logger.Warn("reading inner archive", "path", p, "entry", entry, "error", err)
		}
	}
	return nil, fmt.Errorf("%s: %w", entry, fs.ErrNotExist)
}

func readFromZipFile(archivePath, entry string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == entry {
			return readZipFile(f)
		}
	}
	return nil, fs.ErrNotExist
}

// Close removes the extraction directory.
func (i *InnerArchives) Close() error {
	// waits for a running extraction and prevents a later one
	i.once.Do(func() {})
	if i.dir == "" {
		return nil
	}
	return os.RemoveAll(i.dir)
}
