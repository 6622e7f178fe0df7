package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/tasks"
)

// keepAliveInterval bounds how long an idle event stream stays silent.
const keepAliveInterval = 15 * time.Second

// listActivities godoc
// @Summary List all activities grouped by category
// @Tags Activities
// @Produce json
// @Success 200 {object} ActivitiesResponse
// @Router /api/v1/activities [get]
func (s *Server) listActivities(c *gin.Context) {
	c.JSON(http.StatusOK, newActivitiesResponse(s.activities.Sections()))
}

// getCategory godoc
// @Summary List the activities of one category
// @Tags Activities
// @Produce json
// @Param category path string true "download, sign, modify or install"
// @Success 200 {object} activity.Section
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/activities/{category} [get]
func (s *Server) getCategory(c *gin.Context) {
	category, err := activity.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, activity.Section{
		Category: category,
		Records:  s.activities.Registry(category).Records(),
	})
}

// cancelActivity godoc
// @Summary Cancel a running activity
// @Description Download ids are cancelled through the download manager, sign, modify and install ids through their task runner.
// @Tags Activities
// @Produce json
// @Param category path string true "download, sign, modify or install"
// @Param id path string true "Activity ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/activities/{category}/{id} [delete]
func (s *Server) cancelActivity(c *gin.Context) {
	category, err := activity.ParseCategory(c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("id")

	if category == activity.CategoryDownload {
		err = s.downloads.Cancel(id)
	} else if canceler, ok := s.tasks[category]; ok {
		err = canceler.Cancel(id)
	} else {
		err = fmt.Errorf("%w: %s", tasks.ErrNotRunning, id)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Activity cancelled"})
}

// streamActivities pushes the full activity view as a server-sent event
// whenever any registry changes.
func (s *Server) streamActivities(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	slog.Debug("Activity stream opened", "remote", c.ClientIP())
	defer slog.Debug("Activity stream closed", "remote", c.ClientIP())

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	// Take the channel before the snapshot so no change falls in between.
	changed := s.activities.Changed()
	c.SSEvent("activities", newActivitiesResponse(s.activities.Sections()))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-keepAlive.C:
			io.WriteString(w, ": keep-alive\n\n")
			return true
		case <-changed:
			changed = s.activities.Changed()
			c.SSEvent("activities", newActivitiesResponse(s.activities.Sections()))
			return true
		}
	})
}

func newActivitiesResponse(sections []activity.Section) ActivitiesResponse {
	resp := ActivitiesResponse{Sections: sections}
	for _, sec := range sections {
		resp.Total += len(sec.Records)
	}
	return resp
}
