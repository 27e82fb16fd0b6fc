// Package admin serves the JSON administration API of the plugin host.
//
// Routes:
//
//	GET    /healthz
//	GET    /plugins
//	GET    /plugins/:key
//	POST   /plugins/:key/enable
//	POST   /plugins/:key/disable
//	DELETE /plugins/:key
//	POST   /modules/:key/enable
//	POST   /modules/:key/disable
//	POST   /scan
//
// Module routes take the complete key, "plugin:module".
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dshills/plughost/internal/plugin"
)

// Manager is the part of the plugin manager the API drives.
type Manager interface {
	Plugins() []*plugin.Plugin
	Plugin(key string) (*plugin.Plugin, bool)
	EnabledPlugins() []*plugin.Plugin
	EnablePlugins(ctx context.Context, keys ...string) error
	DisablePlugin(ctx context.Context, key string) error
	UninstallPlugin(ctx context.Context, key string) error
	EnablePluginModule(ctx context.Context, completeKey string) error
	DisablePluginModule(ctx context.Context, completeKey string) error
	ScanForNewPlugins(ctx context.Context) (int, error)
}

// Server is the admin HTTP server.
type Server struct {
	echo    *echo.Echo
	manager Manager
	logger  *slog.Logger
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for requests and server errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server for manager with every route registered.
func New(manager Manager, opts ...Option) *Server {
	s := &Server{
		echo:    echo.New(),
		manager: manager,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Use(s.recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	g := s.echo.Group("/plugins")
	g.GET("", s.listPlugins)
	g.GET("/:key", s.getPlugin)
	g.POST("/:key/enable", s.enablePlugin)
	g.POST("/:key/disable", s.disablePlugin)
	g.DELETE("/:key", s.uninstallPlugin)

	s.echo.POST("/modules/:key/enable", s.enableModule)
	s.echo.POST("/modules/:key/disable", s.disableModule)
	s.echo.POST("/scan", s.scan)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("admin API listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
