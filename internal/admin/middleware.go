package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dshills/plughost/internal/manager"
	"github.com/dshills/plughost/internal/plugin"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps manager and plugin errors to HTTP status codes.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, plugin.ErrPluginNotFound), errors.Is(err, plugin.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrSystemPlugin),
		errors.Is(err, manager.ErrNotUninstallable),
		errors.Is(err, manager.ErrCannotDisable):
		return http.StatusConflict
	case errors.Is(err, manager.ErrRequiresRestart):
		return http.StatusAccepted
	case errors.Is(err, manager.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, plugin.ErrUnloadable),
		errors.Is(err, manager.ErrMissingDependency),
		errors.Is(err, manager.ErrDependencyCycle),
		errors.Is(err, manager.ErrRuntimeVersion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("admin request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		s.logger.Warn("writing error response", "error", err)
	}
}

// recovery turns handler panics into 500 replies.
func (s *Server) recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("panic recovered",
						"panic", r,
						"stack", string(debug.Stack()),
						"method", c.Request().Method,
						"path", c.Request().URL.Path,
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// requestLogger logs every request once it completes.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			level := slog.LevelDebug
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			case c.Request().Method != http.MethodGet:
				level = slog.LevelInfo
			}
			req := c.Request()
			s.logger.LogAttrs(req.Context(), level, "request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("latency", time.Since(start)),
				slog.String("remote_ip", c.RealIP()),
			)
			return err
		}
	}
}
