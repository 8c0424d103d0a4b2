package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/isomorphiq/orchestrator/pkg/profile"
)

// listProfilesHandler handles GET /api/v1/profiles.
func (s *Server) listProfilesHandler(c *echo.Context) error {
	snapshots, err := s.profiles.Snapshots(c.Request().Context())
	if err != nil {
		return mapProfileError(err)
	}
	return c.JSON(http.StatusOK, snapshots)
}

// getProfileHandler handles GET /api/v1/profiles/:name.
func (s *Server) getProfileHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "profile name is required")
	}

	snapshot, err := s.profiles.Snapshot(c.Request().Context(), name)
	if err != nil {
		return mapProfileError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// putOverrideHandler handles PUT /api/v1/profiles/:name/override. An
// empty override body deletes the stored override.
func (s *Server) putOverrideHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "profile name is required")
	}

	var override profile.Override
	if err := c.Bind(&override); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid override body")
	}

	if err := s.profiles.SetOverride(c.Request().Context(), name, &override); err != nil {
		return mapProfileError(err)
	}

	snapshot, err := s.profiles.Snapshot(c.Request().Context(), name)
	if err != nil {
		return mapProfileError(err)
	}
	s.logger.Info("profile override updated", "profile", name)
	return c.JSON(http.StatusOK, snapshot)
}

// deleteOverrideHandler handles DELETE /api/v1/profiles/:name/override.
func (s *Server) deleteOverrideHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "profile name is required")
	}

	if err := s.profiles.DeleteOverride(c.Request().Context(), name); err != nil {
		return mapProfileError(err)
	}
	s.logger.Info("profile override deleted", "profile", name)
	return c.NoContent(http.StatusNoContent)
}
