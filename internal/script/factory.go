package script

import (
	"context"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plughost/internal/classloader"
	"github.com/dshills/plughost/internal/plugin"
)

// Prefix is the module class prefix handled by Factory.
const Prefix = "lua"

// Factory resolves "lua:" module classes. The identifier is the path of
// a script resource in the plugin.
type Factory struct {
	opts   []Option
	logger *slog.Logger
}

// NewFactory creates a factory whose module states are built with opts.
func NewFactory(logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{opts: opts, logger: logger}
}

var _ plugin.PrefixFactory = (*Factory)(nil)

// Resolve loads and compiles the script. Instances are created by the
// returned resolution.
func (f *Factory) Resolve(ctx context.Context, d *plugin.ModuleDescriptor, id string) (*plugin.Resolution, error) {
	className := Prefix + ":" + id

	l := scriptLoader(ctx, d)
	if l == nil {
		return nil, &plugin.ClassResolutionError{ClassName: className, Err: ErrScriptNotFound}
	}
	res, ok := l.Resource(id)
	if !ok {
		return nil, &plugin.ClassResolutionError{ClassName: className, Err: ErrScriptNotFound}
	}
	proto, err := Compile(id, string(res.Data))
	if err != nil {
		return nil, &plugin.ClassResolutionError{ClassName: className, Err: err}
	}

	name := d.CompleteKey()
	params := d.Params().Map()
	return &plugin.Resolution{
		ClassName: className,
		New: func(ctx context.Context) (any, error) {
			return f.instantiate(ctx, name, proto, params)
		},
	}, nil
}

// scriptLoader prefers the plugin's own loader over the one in ctx.
func scriptLoader(ctx context.Context, d *plugin.ModuleDescriptor) classloader.Loader {
	if p := d.Plugin(); p != nil && p.ClassLoader() != nil {
		return p.ClassLoader()
	}
	if l, ok := classloader.FromContext(ctx); ok {
		return l
	}
	return nil
}

func (f *Factory) instantiate(ctx context.Context, name string, proto *lua.FunctionProto, params map[string]string) (*Module, error) {
	opts := append([]Option{WithLogger(f.logger), WithName(name)}, f.opts...)
	st := NewState(opts...)
	if err := st.Run(ctx, proto); err != nil {
		_ = st.Close()
		return nil, err
	}
	if st.HasFunction("init") {
		if _, err := st.Call(ctx, "init", params); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	f.logger.Debug("lua module created", "module", name)
	return &Module{name: name, state: st}, nil
}

// Module is an instance of a Lua module.
type Module struct {
	name  string
	state *State
}

// Name returns the complete key of the module descriptor.
func (m *Module) Name() string {
	return m.name
}

// Call calls a global function of the script.
func (m *Module) Call(ctx context.Context, fn string, args ...any) ([]any, error) {
	return m.state.Call(ctx, fn, args...)
}

// Has reports whether the script defines the global function fn.
func (m *Module) Has(fn string) bool {
	return m.state.HasFunction(fn)
}

// Close calls the script's close function, if any, and releases the
// interpreter.
func (m *Module) Close() error {
	if m.state.HasFunction("close") {
		if _, err := m.state.Call(context.Background(), "close"); err != nil {
			_ = m.state.Close()
			return err
		}
	}
	return m.state.Close()
}
