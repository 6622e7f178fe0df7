// Package app builds the object graph shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jaki95/ipa-library/config"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/download"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/mainloop"
	"github.com/jaki95/ipa-library/internal/monitor"
	"github.com/jaki95/ipa-library/internal/operation"
	"github.com/jaki95/ipa-library/internal/resolve"
	"github.com/jaki95/ipa-library/internal/storage"
	"github.com/jaki95/ipa-library/internal/tasks"
)

// App owns every long-lived component. Build it once with New and release it
// with Close.
type App struct {
	Activities *activity.Set
	Ops        *operation.Table
	Library    *library.Store
	Storage    storage.Storage
	Downloads  *download.Manager

	// Signing is nil when no signing tool is configured.
	Signing *tasks.SignService
	// Installing publishes signed apps into Storage.
	Installing *tasks.InstallService

	// ScratchDir holds packages while they are being downloaded.
	ScratchDir string

	runners  map[activity.Category]*tasks.Runner
	stopLoop func()
}

// New wires the application from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	for _, dir := range []string{filepath.Dir(cfg.Library.DBPath), cfg.Library.AppsDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	lib, err := library.Open(cfg.Library.DBPath, slog.Default())
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		lib.Close()
		return nil, err
	}

	loop := mainloop.New()
	a := &App{
		Activities: activity.NewSet(loop, activity.WithCompletedGrace(cfg.Activity.CompletedGrace)),
		Ops:        operation.NewTable(),
		Library:    lib,
		Storage:    store,
		ScratchDir: filepath.Join(cfg.Storage.TempDir, "ipa-library"),
		runners:    make(map[activity.Category]*tasks.Runner),
		stopLoop:   loop.Start(),
	}

	a.Downloads, err = download.NewManager(download.Options{
		Registry:  a.Activities.Downloads(),
		Ops:       a.Ops,
		Monitor:   newMonitor(a.Activities.Downloads(), cfg.Activity),
		Resolver:  resolve.New(),
		Storage:   store,
		Library:   lib,
		AppsDir:   cfg.Library.AppsDir,
		TempDir:   a.ScratchDir,
		Milestone: cfg.Activity.UnpackMilestone,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	for _, c := range []activity.Category{activity.CategorySign, activity.CategoryModify, activity.CategoryInstall} {
		registry := a.Activities.Registry(c)
		a.runners[c] = tasks.NewRunner(registry, a.Ops, newMonitor(registry, cfg.Activity))
	}

	a.Installing = tasks.NewInstallService(a.runners[activity.CategoryInstall], lib, store, a.ScratchDir)

	if cfg.Signing.Binary != "" {
		signer := &tasks.CommandSigner{Binary: cfg.Signing.Binary, Args: cfg.Signing.Args}
		a.Signing = tasks.NewSignService(a.runners[activity.CategorySign], signer, lib, cfg.Signing.SignedDir)
		slog.Info("Signing enabled", "binary", cfg.Signing.Binary)
	}

	return a, nil
}

// Runner returns the task runner for a sign, modify or install category.
func (a *App) Runner(c activity.Category) (*tasks.Runner, bool) {
	r, ok := a.runners[c]
	return r, ok
}

// Close stops every running operation and releases storage.
func (a *App) Close() {
	if a.Downloads != nil {
		a.Downloads.Close()
	}
	for _, r := range a.runners {
		r.Close()
	}
	a.stopLoop()

	if err := a.Storage.Close(); err != nil {
		slog.Warn("Failed to close storage", "error", err)
	}
	if err := a.Library.Close(); err != nil {
		slog.Warn("Failed to close library", "error", err)
	}
}

func newMonitor(registry *activity.Registry, cfg config.ActivityConfig) *monitor.Monitor {
	return monitor.New(registry,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithThreshold(cfg.ProgressThreshold),
		monitor.WithFailedGrace(cfg.FailedGrace),
	)
}
