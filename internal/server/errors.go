package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/download"
	"github.com/jaki95/ipa-library/internal/ipa"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/resolve"
	"github.com/jaki95/ipa-library/internal/storage"
	"github.com/jaki95/ipa-library/internal/tasks"
)

var (
	ErrSigningDisabled    = errors.New("signing is not configured")
	ErrInstallingDisabled = errors.New("installing is not configured")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, activity.ErrUnknownCategory),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, download.ErrNotRunning),
		errors.Is(err, tasks.ErrNotRunning):
		return http.StatusNotFound
	case errors.Is(err, download.ErrEmptyURL),
		errors.Is(err, resolve.ErrUnsupportedURL):
		return http.StatusBadRequest
	case errors.Is(err, resolve.ErrNoPackage),
		errors.Is(err, ipa.ErrNoPackage),
		errors.Is(err, ipa.ErrInvalidPackage),
		errors.Is(err, tasks.ErrNotSigned):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tasks.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, ErrSigningDisabled),
		errors.Is(err, ErrInstallingDisabled),
		errors.Is(err, tasks.ErrNoSigner):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
