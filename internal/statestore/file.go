package statestore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// FileStore keeps the state in a properties file of key=true|false
// lines. Saves write a temporary file and rename it into place.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file. A missing file is an empty state.
func (s *FileStore) Load(context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugin state: %w", err)
	}
	return parseProperties(data)
}

// Save replaces the file contents.
func (s *FileStore) Save(_ context.Context, state map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(formatProperties(state)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Close does nothing.
func (s *FileStore) Close() error {
	return nil
}

func formatProperties(state map[string]bool) []byte {
	keys := slices.Sorted(maps.Keys(state))

	var buf bytes.Buffer
	buf.WriteString("# plugin enablement overrides\n")
	for _, k := range keys {
		buf.WriteString(escapeKey(k))
		buf.WriteByte('=')
		buf.WriteString(strconv.FormatBool(state[k]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func parseProperties(data []byte) (map[string]bool, error) {
	state := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == '!' {
			continue
		}

		key, value, ok := splitProperty(text)
		if !ok {
			return nil, fmt.Errorf("plugin state line %d: missing separator", line)
		}
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("plugin state line %d: %w", line, err)
		}
		state[key] = b
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading plugin state: %w", err)
	}
	return state, nil
}

// splitProperty splits at the first unescaped '=' or ':' and unescapes
// the key.
func splitProperty(text string) (key, value string, ok bool) {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text):
			i++
			b.WriteByte(text[i])
		case c == '=' || c == ':':
			return strings.TrimSpace(b.String()), text[i+1:], true
		default:
			b.WriteByte(c)
		}
	}
	return "", "", false
}

func escapeKey(k string) string {
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		switch c := k[i]; c {
		case '=', ':', '\\', '#', '!', ' ':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
