package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/storage"
)

// listApps godoc
// @Summary List library apps
// @Tags Apps
// @Produce json
// @Param kind query string false "imported or signed"
// @Success 200 {array} library.App
// @Router /api/v1/apps [get]
func (s *Server) listApps(c *gin.Context) {
	kind := library.Kind(c.Query("kind"))
	switch kind {
	case "", library.KindImported, library.KindSigned:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown kind %q", kind)})
		return
	}

	apps, err := s.library.List(c.Request.Context(), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

func (s *Server) getApp(c *gin.Context) {
	app, err := s.library.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// downloadPackage streams the original package of an imported app.
func (s *Server) downloadPackage(c *gin.Context) {
	ctx := c.Request.Context()
	app, err := s.library.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	rc, err := s.storage.OpenPackage(ctx, app.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", SanitizeFilename(app.Name)+".ipa"))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		slog.Warn("Package stream interrupted", "id", app.ID, "error", err)
	}
}

// deleteApp removes an app from the library together with its files.
func (s *Server) deleteApp(c *gin.Context) {
	ctx := c.Request.Context()
	app, err := s.library.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := s.library.Delete(ctx, app.ID); err != nil {
		respondError(c, err)
		return
	}

	if err := os.RemoveAll(app.Path); err != nil {
		slog.Warn("Failed to remove app files", "id", app.ID, "path", app.Path, "error", err)
	}
	if app.Kind == library.KindImported {
		if err := s.storage.DeletePackage(ctx, app.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to remove package", "id", app.ID, "error", err)
		}
	}

	slog.Info("App deleted", "id", app.ID, "name", app.Name)
	c.JSON(http.StatusOK, MessageResponse{Message: "App deleted"})
}

// signApp godoc
// @Summary Sign a library app
// @Description Starts signing in the background. Progress is reported under the sign category and the result is stored as a signed app with the returned id.
// @Tags Apps
// @Produce json
// @Param id path string true "App ID"
// @Success 202 {object} AcceptedResponse
// @Failure 404 {object} ErrorResponse
// @Failure 501 {object} ErrorResponse
// @Router /api/v1/apps/{id}/sign [post]
func (s *Server) signApp(c *gin.Context) {
	if s.signer == nil {
		respondError(c, ErrSigningDisabled)
		return
	}

	id, err := s.signer.Sign(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: id, Message: "Signing started"})
}

// installApp godoc
// @Summary Publish a signed app as an installable package
// @Description Repackages the signed app in the background into package storage. Progress is reported under the install category.
// @Tags Apps
// @Produce json
// @Param id path string true "App ID"
// @Success 202 {object} AcceptedResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/apps/{id}/install [post]
func (s *Server) installApp(c *gin.Context) {
	if s.installer == nil {
		respondError(c, ErrInstallingDisabled)
		return
	}

	id, err := s.installer.Install(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AcceptedResponse{ID: id, Message: "Install started"})
}
