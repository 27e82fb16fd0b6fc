// Package script runs plugin modules written in Lua.
//
// Modules declared with class="lua:path/to/script.lua" are resolved by
// Factory: the script is read from the plugin's loader and compiled once
// when the module is enabled. Every module instance gets its own
// sandboxed State, runs the script, and has its init function called with
// the module params.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 5 * time.Second

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrTimeout is returned when a call runs past its deadline.
	ErrTimeout = errors.New("lua execution timeout")

	// ErrNoFunction is returned when calling a global that is not a function.
	ErrNoFunction = errors.New("lua function not found")

	// ErrScriptNotFound is returned when a module's script resource is missing.
	ErrScriptNotFound = errors.New("lua script not found")
)

// Option configures a State.
type Option func(*State)

// WithTimeout bounds each call. Zero or less means calls are bounded by
// their context only.
func WithTimeout(d time.Duration) Option {
	return func(s *State) {
		s.timeout = d
	}
}

// WithLogger sets the logger print writes to.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithName names the state in log output.
func WithName(name string) Option {
	return func(s *State) {
		s.name = name
	}
}

// State is a sandboxed Lua interpreter. Only the base, table, string and
// math libraries are available, and code cannot load other code. Calls
// are serialised.
type State struct {
	mu      sync.Mutex
	L       *lua.LState
	name    string
	timeout time.Duration
	logger  *slog.Logger
	closed  bool
}

// NewState creates a sandboxed state.
func NewState(opts ...Option) *State {
	s := &State{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		s.L.Push(s.L.NewFunction(open))
		s.L.Call(0, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.print))
	return s
}

// print sends its arguments to the logger instead of stdout.
func (s *State) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.logger.Info(strings.Join(parts, "\t"), "script", s.name)
	return 0
}

// Compile parses and compiles src. name is used in error messages.
func Compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	return proto, nil
}

// Run executes a compiled chunk.
func (s *State) Run(ctx context.Context, proto *lua.FunctionProto) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	fn := s.L.NewFunctionFromProto(proto)
	_, err := s.call(ctx, proto.SourceName, fn, nil)
	return err
}

// DoString compiles and executes code.
func (s *State) DoString(ctx context.Context, code string) error {
	proto, err := Compile("<string>", code)
	if err != nil {
		return err
	}
	return s.Run(ctx, proto)
}

// HasFunction reports whether the global name is a function.
func (s *State) HasFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	_, ok := s.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Global returns the Go value of a global variable.
func (s *State) Global(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return ToGo(s.L.GetGlobal(name))
}

// SetGlobal sets a global variable from a Go value.
func (s *State) SetGlobal(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.SetGlobal(name, ToLua(s.L, v))
}

// Call calls the global function fn and returns its results converted
// to Go values.
func (s *State) Call(ctx context.Context, fn string, args ...any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	f, ok := s.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFunction, fn)
	}
	return s.call(ctx, fn, f, args)
}

// call runs f with the state lock held.
func (s *State) call(ctx context.Context, what string, f *lua.LFunction, args []any) (out []any, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			s.L.SetTop(top)
			out, err = nil, fmt.Errorf("lua %s: panic: %v", what, r)
		}
	}()

	s.L.Push(f)
	for _, a := range args {
		s.L.Push(ToLua(s.L, a))
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		s.L.SetTop(top)
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("lua %s: %w", what, ErrTimeout)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("lua %s: %w", what, ctx.Err())
		}
		return nil, fmt.Errorf("lua %s: %w", what, err)
	}

	n := s.L.GetTop() - top
	out = make([]any, n)
	for i := range n {
		out[i] = ToGo(s.L.Get(top + i + 1))
	}
	s.L.SetTop(top)
	return out, nil
}

// Close releases the interpreter. It is safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}
