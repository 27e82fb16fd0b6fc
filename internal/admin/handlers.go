package admin

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"plugins": len(s.manager.Plugins()),
		"enabled": len(s.manager.EnabledPlugins()),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// listPlugins handles GET /plugins. Unloadable plugins are listed with
// their error text.
func (s *Server) listPlugins(c echo.Context) error {
	plugins := s.manager.Plugins()
	out := make([]PluginView, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, NewPluginView(p, false))
	}
	return c.JSON(http.StatusOK, out)
}

// getPlugin handles GET /plugins/:key and includes the modules.
func (s *Server) getPlugin(c echo.Context) error {
	p, ok := s.manager.Plugin(c.Param("key"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plugin not found")
	}
	return c.JSON(http.StatusOK, NewPluginView(p, true))
}

func (s *Server) enablePlugin(c echo.Context) error {
	key := c.Param("key")
	if err := s.manager.EnablePlugins(c.Request().Context(), key); err != nil {
		return err
	}
	return s.pluginState(c, key)
}

func (s *Server) disablePlugin(c echo.Context) error {
	key := c.Param("key")
	if err := s.manager.DisablePlugin(c.Request().Context(), key); err != nil {
		return err
	}
	return s.pluginState(c, key)
}

func (s *Server) uninstallPlugin(c echo.Context) error {
	if err := s.manager.UninstallPlugin(c.Request().Context(), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) enableModule(c echo.Context) error {
	if err := s.manager.EnablePluginModule(c.Request().Context(), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) disableModule(c echo.Context) error {
	if err := s.manager.DisablePluginModule(c.Request().Context(), c.Param("key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// scan handles POST /scan.
func (s *Server) scan(c echo.Context) error {
	n, err := s.manager.ScanForNewPlugins(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"found": n})
}

func (s *Server) pluginState(c echo.Context, key string) error {
	p, ok := s.manager.Plugin(key)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plugin not found")
	}
	return c.JSON(http.StatusOK, NewPluginView(p, false))
}
