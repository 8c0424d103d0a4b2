package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/isomorphiq/orchestrator/pkg/profile"
)

// mapProfileError maps registry errors to HTTP error responses.
// Anything not a known sentinel is treated as a validation failure for
// writes and logged as unexpected otherwise.
func mapProfileError(err error) *echo.HTTPError {
	if errors.Is(err, profile.ErrUnknownProfile) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, profile.ErrStoreUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "profile override store unavailable")
	}
	if errors.Is(err, profile.ErrInvalidOverride) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	slog.Error("Unexpected profile registry error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
