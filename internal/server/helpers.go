package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Scratch files older than this belong to downloads that never finished
	DefaultScratchTTL = 24 * time.Hour

	CleanupInterval = 2 * time.Hour
)

// StartCleanupWorker sweeps the scratch directory until stop is closed.
func (s *Server) StartCleanupWorker(stop <-chan struct{}) {
	if s.scratchDir == "" {
		return
	}

	ticker := time.NewTicker(CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.cleanupScratch(time.Now().Add(-DefaultScratchTTL))
			}
		}
	}()
	slog.Info("Scratch cleanup worker started", "dir", s.scratchDir, "interval", CleanupInterval)
}

// cleanupScratch removes scratch entries last modified before cutoff and
// returns how many were removed.
func (s *Server) cleanupScratch(cutoff time.Time) int {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read scratch directory", "dir", s.scratchDir, "error", err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.scratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Error("Failed to remove scratch entry", "path", path, "error", err)
			continue
		}
		slog.Debug("Removed scratch entry", "path", path, "age", time.Since(info.ModTime()))
		cleaned++
	}

	if cleaned > 0 {
		slog.Info("Cleanup completed", "entries_cleaned", cleaned)
	}
	return cleaned
}

// SanitizeFilename sanitizes a filename by removing invalid characters
func SanitizeFilename(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\n", "\r", "\t"}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	result = strings.Trim(result, " .")
	if result == "" {
		result = "untitled"
	}
	return result
}
