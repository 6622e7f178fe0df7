// Package download fetches packages into the library and reports their
// progress through the download activity registry.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/ipa"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/monitor"
	"github.com/jaki95/ipa-library/internal/operation"
	"github.com/jaki95/ipa-library/internal/resolve"
	"github.com/jaki95/ipa-library/internal/storage"
)

// DefaultUnpackMilestone is the progress at which a download is considered
// transferred and extraction starts.
const DefaultUnpackMilestone = 0.75

// SourceResolver finds the package behind a user supplied URL.
type SourceResolver interface {
	Resolve(ctx context.Context, rawURL string) (*resolve.Source, error)
}

// Request asks for one package to be downloaded. Name overrides the display
// name advertised by the source.
type Request struct {
	URL  string `json:"url" binding:"required"`
	Name string `json:"name"`
}

// Options wires a Manager to its collaborators.
type Options struct {
	Registry  *activity.Registry
	Ops       *operation.Table
	Monitor   *monitor.Monitor
	Resolver  SourceResolver
	Storage   storage.Storage
	Library   *library.Store
	AppsDir   string
	TempDir   string
	Milestone float64
	Client    *http.Client
}

// Manager starts downloads and tracks them until they land in the library.
type Manager struct {
	registry  *activity.Registry
	ops       *operation.Table
	monitor   *monitor.Monitor
	resolver  SourceResolver
	storage   storage.Storage
	library   *library.Store
	appsDir   string
	tempDir   string
	milestone float64
	client    *http.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager. Downloads outlive the request that started
// them and are stopped by Close.
func NewManager(opts Options) (*Manager, error) {
	for _, dir := range []string{opts.AppsDir, opts.TempDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if opts.Milestone <= 0 || opts.Milestone > 1 {
		opts.Milestone = DefaultUnpackMilestone
	}
	if opts.Client == nil {
		// Long timeout for large packages
		opts.Client = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.Monitor == nil {
		opts.Monitor = monitor.New(opts.Registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:  opts.Registry,
		ops:       opts.Ops,
		monitor:   opts.Monitor,
		resolver:  opts.Resolver,
		storage:   opts.Storage,
		library:   opts.Library,
		appsDir:   opts.AppsDir,
		tempDir:   opts.TempDir,
		milestone: opts.Milestone,
		client:    opts.Client,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start resolves req.URL, registers the download and begins it in the
// background. The returned id keys the activity record and, on success, the
// library app.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", ErrEmptyURL
	}

	src, err := m.resolver.Resolve(ctx, req.URL)
	if err != nil {
		return "", err
	}

	name := req.Name
	if name == "" {
		name = src.Name
	}
	if name == "" {
		name = filepath.Base(src.URL)
	}

	id := uuid.NewString()
	m.registry.Add(id, name, src.BundleID, "")
	handle := m.ops.Begin(m.ctx, id)

	slog.Info("Download started", "id", id, "url", src.URL, "name", name)

	go m.run(handle, src.URL)
	m.monitor.Go(m.ctx, monitor.Target{
		ID:       id,
		Source:   m.ops,
		Resolver: monitor.ResolverFunc(m.resolve),
		Milestones: []monitor.Milestone{
			{At: m.milestone, Status: activity.Extracting},
		},
	})
	return id, nil
}

// Cancel stops a running download and drops its record. A download whose app
// is already saved can no longer be cancelled.
func (m *Manager) Cancel(id string) error {
	if !m.ops.Cancel(id) {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	m.registry.Remove(id)
	slog.Info("Download cancelled", "id", id)
	return nil
}

// Close cancels every running download.
func (m *Manager) Close() {
	m.cancel()
}

// resolve reports success once the app is in the library, otherwise the
// error the download ended with.
func (m *Manager) resolve(ctx context.Context, id string) (bool, error) {
	ok, err := m.library.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		m.ops.TakeErr(id)
		return true, nil
	}
	if opErr := m.ops.TakeErr(id); opErr != nil {
		return false, opErr
	}
	return false, nil
}

func (m *Manager) run(h *operation.Handle, url string) {
	id := h.ID()
	defer m.ops.End(id)

	if err := m.fetch(h, url); err != nil {
		if h.Context().Err() == nil {
			slog.Error("Download failed", "id", id, "error", err)
		}
		h.Fail(err)
	}
}

func (m *Manager) fetch(h *operation.Handle, url string) error {
	ctx := h.Context()
	id := h.ID()

	pkgPath := filepath.Join(m.tempDir, id+".ipa")
	defer os.Remove(pkgPath)

	m.registry.UpdateStatus(id, activity.Downloading)
	size, err := m.transfer(ctx, url, pkgPath, func(fraction float64) {
		h.Set(fraction * m.milestone)
	})
	if err != nil {
		return err
	}
	slog.Info("Downloaded package", "id", id, "size", size)
	h.Set(m.milestone)

	appDir := filepath.Join(m.appsDir, id)
	err = ipa.Extract(ctx, pkgPath, appDir, func(fraction float64) {
		h.Set(m.milestone + fraction*(1-m.milestone)*0.99)
	})
	if err != nil {
		os.RemoveAll(appDir)
		return err
	}

	info, err := ipa.ReadInfo(appDir)
	if err != nil {
		os.RemoveAll(appDir)
		return err
	}

	if _, err := m.storage.SavePackage(ctx, id, pkgPath); err != nil {
		os.RemoveAll(appDir)
		return fmt.Errorf("failed to store package: %w", err)
	}

	app := &library.App{
		ID:       id,
		Name:     info.Name,
		BundleID: info.BundleID,
		Version:  info.Version,
		Kind:     library.KindImported,
		Path:     appDir,
		Icon:     info.Icon,
	}
	if err := m.commit(h, app); err != nil {
		os.RemoveAll(appDir)
		m.storage.DeletePackage(context.Background(), id)
		return err
	}
	h.Set(1)
	return nil
}

// commit saves app and makes the download final. A cancel that wins the race
// against Commit undoes the save.
func (m *Manager) commit(h *operation.Handle, app *library.App) error {
	if err := m.library.Save(h.Context(), app); err != nil {
		return err
	}
	if !h.Commit() {
		if err := m.library.Delete(context.Background(), app.ID); err != nil {
			slog.Warn("Failed to roll back cancelled download", "id", app.ID, "error", err)
		}
		return context.Canceled
	}
	return nil
}
