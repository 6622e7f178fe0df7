package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/download"
)

// startDownload godoc
// @Summary Download a package into the library
// @Description Resolves the URL to a package and downloads it in the background. Progress is reported under the download category.
// @Tags Downloads
// @Accept json
// @Produce json
// @Param request body download.Request true "Package source"
// @Success 202 {object} AcceptedResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/downloads [post]
func (s *Server) startDownload(c *gin.Context) {
	var req download.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	id, err := s.downloads.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, AcceptedResponse{ID: id, Message: "Download started"})
}

// cancelDownload godoc
// @Summary Cancel a running download
// @Tags Downloads
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/downloads/{id} [delete]
func (s *Server) cancelDownload(c *gin.Context) {
	if err := s.downloads.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Download cancelled"})
}
