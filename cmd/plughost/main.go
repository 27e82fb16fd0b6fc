// Package main is the entry point for the plughost plugin server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/plughost/internal/admin"
	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/hotdeploy"
	"github.com/dshills/plughost/internal/loader"
	"github.com/dshills/plughost/internal/logging"
	"github.com/dshills/plughost/internal/manager"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/script"
	"github.com/dshills/plughost/internal/statestore"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Module kinds every host understands.
var hostKinds = []*plugin.Kind{
	{Name: "component"},
	{Name: "script"},
}

type options struct {
	configPath string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger, closer := logging.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("plughost failed", "error", err)
		return 1
	}
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "plughost - hot deploying plugin host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: plughost [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment overrides:\n")
		for _, name := range config.EnvVars() {
			fmt.Fprintf(os.Stderr, "  %s\n", name)
		}
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("plughost %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	return opts
}

// serve starts the plugin system and runs hot deployment and the admin
// API until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting plughost",
		"version", version,
		"plugins_dir", cfg.Plugins.Dir,
		"store", cfg.Store.Driver,
	)

	if err := prepareDirs(cfg.Plugins); err != nil {
		return err
	}

	store, err := statestore.Open(ctx, cfg.Store.Options(), logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	publisher, closePublisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer closePublisher()

	kinds, err := newKinds(cfg.Plugins, logger)
	if err != nil {
		store.Close()
		return err
	}

	m := manager.New(kinds, newLoaders(cfg.Plugins, logger),
		manager.WithLogger(logger),
		manager.WithStore(store),
		manager.WithPublisher(publisher),
		manager.WithRuntimeVersion(cfg.Plugins.RuntimeVersion),
		manager.WithEnableTimeout(cfg.Plugins.EnableTimeout.Std(), manager.DefaultWaitInterval),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout.Std())
		defer cancel()
		if err := m.Shutdown(sctx); err != nil {
			logger.Warn("plugin shutdown", "error", err)
		}
	}()

	if err := m.Init(ctx); err != nil {
		if !m.Running() {
			return fmt.Errorf("starting plugin system: %w", err)
		}
		logger.Error("some plugins failed to start", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	pollerOpts := []hotdeploy.Option{
		hotdeploy.WithInterval(cfg.Plugins.PollInterval.Std()),
		hotdeploy.WithDebounce(cfg.Plugins.Debounce.Std()),
		hotdeploy.WithLogger(logger),
	}
	if cfg.Plugins.Watch {
		pollerOpts = append(pollerOpts, hotdeploy.WithWatchDir(cfg.Plugins.Dir))
	}
	poller := hotdeploy.New(m, pollerOpts...)
	g.Go(func() error {
		return poller.Run(gctx)
	})

	if cfg.Admin.Addr != "" {
		srv := admin.New(m, admin.WithLogger(logger))
		g.Go(func() error {
			return srv.Start(cfg.Admin.Addr)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout.Std())
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down plughost")
	return err
}

// prepareDirs creates the hot deploy directory and the directory that
// receives archives extracted from plugins.
func prepareDirs(cfg config.PluginsConfig) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating plugin directory: %w", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating plugin temp directory: %w", err)
	}
	return nil
}

// newPublisher returns the in-process bus, fanned out to AMQP when a
// broker is configured.
func newPublisher(cfg config.EventsConfig, logger *slog.Logger) (event.Publisher, func(), error) {
	bus := event.NewBus(event.WithBusLogger(logger))
	if _, err := bus.Subscribe("**", func(_ context.Context, e event.Event) {
		logger.Debug("plugin event",
			"type", e.Type,
			"plugin", e.PluginKey,
			"module", e.ModuleKey,
		)
	}); err != nil {
		return nil, nil, err
	}
	if cfg.AMQPURL == "" {
		return bus, func() {}, nil
	}

	amqp, err := event.DialAMQP(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to event broker: %w", err)
	}
	logger.Info("publishing plugin events", "exchange", cfg.Exchange)
	return event.Multi{bus, amqp}, func() {
		if err := amqp.Close(); err != nil {
			logger.Warn("closing event broker connection", "error", err)
		}
	}, nil
}

func newKinds(cfg config.PluginsConfig, logger *slog.Logger) (*plugin.Kinds, error) {
	factory := plugin.NewModuleFactory(plugin.NewContainer(), logger)
	factory.RegisterPrefix(script.Prefix, script.NewFactory(logger,
		script.WithTimeout(cfg.ScriptTimeout.Std()),
	))

	kinds := plugin.NewKinds(factory, logger)
	for _, k := range hostKinds {
		if err := kinds.Register(k); err != nil {
			return nil, err
		}
	}
	return kinds, nil
}

// newLoaders returns a loader per bundled artifact followed by the hot
// deploy directory loader.
func newLoaders(cfg config.PluginsConfig, logger *slog.Logger) []loader.PluginLoader {
	factories := []loader.ArtifactFactory{
		loader.NewXMLFactory(nil, logger),
		loader.NewArchiveFactory(cfg.DescriptorName, cfg.TempDir, nil, logger),
	}
	opts := []loader.Option{
		loader.WithLogger(logger),
		loader.WithDescriptorName(cfg.DescriptorName),
	}

	loaders := make([]loader.PluginLoader, 0, len(cfg.Bundled)+1)
	for _, path := range cfg.Bundled {
		loaders = append(loaders, loader.NewSingleLoader(path, factories, opts...))
	}
	return append(loaders, loader.NewDirectoryLoader(cfg.Dir, factories, opts...))
}
