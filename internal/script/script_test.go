package script

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/loader"
	"github.com/dshills/plughost/internal/plugin"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newState(t *testing.T, opts ...Option) *State {
	t.Helper()
	s := NewState(append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStateCall(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	err := s.DoString(ctx, `
		function add(a, b) return a + b end
		function multi() return 1, "two", true, 2.5 end
		function none() end
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	got, err := s.Call(ctx, "add", 2, 3)
	if err != nil {
		t.Fatalf("Call(add) error = %v", err)
	}
	if !reflect.DeepEqual(got, []any{int64(5)}) {
		t.Errorf("add(2, 3) = %v, want [5]", got)
	}

	got, err = s.Call(ctx, "multi")
	if err != nil {
		t.Fatalf("Call(multi) error = %v", err)
	}
	if want := []any{int64(1), "two", true, 2.5}; !reflect.DeepEqual(got, want) {
		t.Errorf("multi() = %v, want %v", got, want)
	}

	got, err = s.Call(ctx, "none")
	if err != nil || len(got) != 0 {
		t.Errorf("none() = %v, %v, want no results", got, err)
	}

	if _, err := s.Call(ctx, "missing"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("Call(missing) error = %v, want ErrNoFunction", err)
	}
}

func TestStateRuntimeError(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	if err := s.DoString(ctx, `function boom() error("kaboom") end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	_, err := s.Call(ctx, "boom")
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Call(boom) error = %v, want kaboom", err)
	}

	// The state stays usable after an error.
	if err := s.DoString(ctx, `x = 1`); err != nil {
		t.Errorf("DoString() after error = %v", err)
	}
	if got := s.Global("x"); got != int64(1) {
		t.Errorf("Global(x) = %v, want 1", got)
	}
}

func TestStateSyntaxError(t *testing.T) {
	s := newState(t)
	if err := s.DoString(context.Background(), `function (`); err == nil {
		t.Error("DoString() with invalid code should return error")
	}
	if _, err := Compile("bad.lua", `end end`); err == nil || !strings.Contains(err.Error(), "bad.lua") {
		t.Errorf("Compile() error = %v, want it to name the script", err)
	}
}

func TestStateSandbox(t *testing.T) {
	s := newState(t)
	ctx := context.Background()

	for _, name := range []string{"os", "io", "debug", "package", "dofile", "loadfile", "load", "loadstring", "require"} {
		if err := s.DoString(ctx, `assert(`+name+` == nil, "`+name+` is available")`); err != nil {
			t.Errorf("%s should not be available: %v", name, err)
		}
	}
	for _, name := range []string{"string", "table", "math", "pairs", "pcall"} {
		if err := s.DoString(ctx, `assert(`+name+` ~= nil)`); err != nil {
			t.Errorf("%s should be available: %v", name, err)
		}
	}
}

func TestStateTimeout(t *testing.T) {
	s := newState(t, WithTimeout(20*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	err := s.DoString(ctx, `while true do end`)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("DoString() error = %v, want ErrTimeout", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("timeout took %v", d)
	}

	if err := s.DoString(ctx, `y = 2`); err != nil {
		t.Errorf("DoString() after timeout error = %v", err)
	}
}

func TestStateContextCancel(t *testing.T) {
	s := newState(t, WithTimeout(0))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := s.DoString(ctx, `while true do end`)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DoString() error = %v, want context.Canceled", err)
	}
}

func TestStatePrintLogs(t *testing.T) {
	var buf bytes.Buffer
	s := NewState(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))), WithName("demo:hello"))
	defer s.Close()

	if err := s.DoString(context.Background(), `print("hello", 42)`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "script=demo:hello") {
		t.Errorf("log output = %q", out)
	}
}

func TestStateClosed(t *testing.T) {
	s := NewState(WithLogger(quietLogger()))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Call(context.Background(), "f"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() error = %v, want ErrStateClosed", err)
	}
	if err := s.DoString(context.Background(), `x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() error = %v, want ErrStateClosed", err)
	}
	if s.HasFunction("f") {
		t.Error("HasFunction() = true on closed state")
	}
}

func TestConversions(t *testing.T) {
	s := newState(t)
	ctx := context.Background()
	s.SetGlobal("cfg", map[string]any{
		"name":  "demo",
		"ports": []int{80, 443},
		"debug": true,
	})
	if err := s.DoString(ctx, `
		function echo(v) return v end
		function describe() return cfg.name .. ":" .. cfg.ports[2] .. ":" .. tostring(cfg.debug) end
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	got, err := s.Call(ctx, "describe")
	if err != nil || len(got) != 1 || got[0] != "demo:443:true" {
		t.Errorf("describe() = %v, %v", got, err)
	}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"float", 1.5, 1.5},
		{"uint", uint8(7), int64(7)},
		{"sequence", []string{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]string{"k": "v"}, map[string]any{"k": "v"}},
		{"nested", map[string]any{"l": []any{int64(1)}}, map[string]any{"l": []any{int64(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Call(ctx, "echo", tt.in)
			if err != nil {
				t.Fatalf("Call(echo) error = %v", err)
			}
			if len(got) != 1 || !reflect.DeepEqual(got[0], tt.want) {
				t.Errorf("echo(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

const greeter = `
local greeting = "hello"

function init(params)
  if params.greeting then greeting = params.greeting end
end

function greet(name)
  return greeting .. " " .. name
end
`

func parseScriptPlugin(t *testing.T, xml string, files fstest.MapFS) *plugin.Plugin {
	t.Helper()
	logger := quietLogger()
	factory := plugin.NewModuleFactory(plugin.NewContainer(), logger)
	factory.RegisterPrefix(Prefix, NewFactory(logger))
	kinds := plugin.NewKinds(factory, logger)
	if err := kinds.Register(&plugin.Kind{Name: "script"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	p := loader.NewParser(kinds, logger).Parse("demo.xml", []byte(xml),
		plugin.WithClassLoader(classloader.NewFSLoader("demo", files)),
		plugin.WithLogger(logger),
	)
	if p.IsUnloadable() {
		t.Fatalf("Parse() unloadable: %s", p.ErrorText())
	}
	return p
}

func TestFactoryModule(t *testing.T) {
	p := parseScriptPlugin(t, `<plugin key="demo">
		<script key="greeter" class="lua:scripts/greeter.lua">
			<param name="greeting" value="hi"/>
		</script>
	</plugin>`, fstest.MapFS{
		"scripts/greeter.lua": &fstest.MapFile{Data: []byte(greeter)},
	})
	ctx := context.Background()

	d, ok := p.Module("greeter")
	if !ok {
		t.Fatal("module greeter not found")
	}
	if err := d.Enabled(ctx); err != nil {
		t.Fatalf("Enabled() error = %v", err)
	}
	if got := d.ResolvedClassName(); got != "lua:scripts/greeter.lua" {
		t.Errorf("ResolvedClassName() = %v, want lua:scripts/greeter.lua", got)
	}

	m, err := plugin.ModuleAs[*Module](ctx, d)
	if err != nil {
		t.Fatalf("ModuleAs() error = %v", err)
	}
	if m.Name() != "demo:greeter" {
		t.Errorf("Name() = %v, want demo:greeter", m.Name())
	}
	if !m.Has("greet") {
		t.Error("Has(greet) = false")
	}
	got, err := m.Call(ctx, "greet", "bob")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(got) != 1 || got[0] != "hi bob" {
		t.Errorf("greet(bob) = %v, want [hi bob]", got)
	}

	d.Disabled()
	if _, err := m.Call(ctx, "greet", "bob"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() after Disabled error = %v, want ErrStateClosed", err)
	}
}

func TestFactoryResolveErrors(t *testing.T) {
	p := parseScriptPlugin(t, `<plugin key="demo">
		<script key="missing" class="lua:nope.lua"/>
		<script key="broken" class="lua:broken.lua"/>
		<script key="failing" class="lua:failing.lua"/>
	</plugin>`, fstest.MapFS{
		"broken.lua":  &fstest.MapFile{Data: []byte(`function (`)},
		"failing.lua": &fstest.MapFile{Data: []byte(`function init() error("no config") end`)},
	})
	ctx := context.Background()

	missing, _ := p.Module("missing")
	err := missing.Enabled(ctx)
	var cre *plugin.ClassResolutionError
	if !errors.As(err, &cre) || !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Enabled(missing) error = %v, want ClassResolutionError with ErrScriptNotFound", err)
	}

	broken, _ := p.Module("broken")
	if err := broken.Enabled(ctx); !errors.As(err, &cre) {
		t.Errorf("Enabled(broken) error = %v, want ClassResolutionError", err)
	}

	failing, _ := p.Module("failing")
	if err := failing.Enabled(ctx); err != nil {
		t.Fatalf("Enabled(failing) error = %v", err)
	}
	if _, err := failing.Module(ctx); err == nil || !strings.Contains(err.Error(), "no config") {
		t.Errorf("Module(failing) error = %v, want init failure", err)
	}
}
