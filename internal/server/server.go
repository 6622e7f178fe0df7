// Package server exposes the activity registries and the library over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/download"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/storage"
)

// Downloader starts and cancels package downloads.
type Downloader interface {
	Start(ctx context.Context, req download.Request) (string, error)
	Cancel(id string) error
}

// Signer signs a library app and returns the id of the sign activity.
type Signer interface {
	Sign(ctx context.Context, appID string) (string, error)
}

// Installer publishes a signed app and returns the id of the install
// activity.
type Installer interface {
	Install(ctx context.Context, appID string) (string, error)
}

// Canceler stops a running task of one activity category.
type Canceler interface {
	Cancel(id string) error
}

// Options wires the server to the application root.
type Options struct {
	Activities *activity.Set
	Downloads  Downloader
	Library    *library.Store
	Storage    storage.Storage

	// Signer and Installer may be nil, in which case their requests are
	// rejected.
	Signer    Signer
	Installer Installer

	// Tasks cancels sign, modify and install activities by category.
	Tasks map[activity.Category]Canceler

	// ScratchDir holds in-flight downloads and is swept by the cleanup worker.
	ScratchDir string
}

// Server handles HTTP requests for the IPA library
type Server struct {
	activities *activity.Set
	downloads  Downloader
	library    *library.Store
	storage    storage.Storage
	signer     Signer
	installer  Installer
	tasks      map[activity.Category]Canceler
	scratchDir string

	router *gin.Engine
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	s := &Server{
		activities: opts.Activities,
		downloads:  opts.Downloads,
		library:    opts.Library,
		storage:    opts.Storage,
		signer:     opts.Signer,
		installer:  opts.Installer,
		tasks:      opts.Tasks,
		scratchDir: opts.ScratchDir,
	}

	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.setupRoutes(s.router)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(router *gin.Engine) {
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", s.health)

	api := router.Group("/api/v1")
	{
		api.GET("/activities", s.listActivities)
		api.GET("/activities/stream", s.streamActivities)
		api.GET("/activities/:category", s.getCategory)
		api.DELETE("/activities/:category/:id", s.cancelActivity)

		api.POST("/downloads", s.startDownload)
		api.DELETE("/downloads/:id", s.cancelDownload)

		api.GET("/apps", s.listApps)
		api.GET("/apps/:id", s.getApp)
		api.GET("/apps/:id/package", s.downloadPackage)
		api.DELETE("/apps/:id", s.deleteApp)
		api.POST("/apps/:id/sign", s.signApp)
		api.POST("/apps/:id/install", s.installApp)
	}
}

// Handler returns the router, for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// health godoc
// @Summary Health check
// @Tags Utility
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /health [get]
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
