package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaki95/ipa-library/internal/activity"
	"github.com/jaki95/ipa-library/internal/download"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/mainloop"
	"github.com/jaki95/ipa-library/internal/monitor"
	"github.com/jaki95/ipa-library/internal/operation"
	"github.com/jaki95/ipa-library/internal/resolve"
	"github.com/jaki95/ipa-library/internal/storage"
	"github.com/jaki95/ipa-library/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) Start(ctx context.Context, req download.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockDownloader) Cancel(id string) error {
	return m.Called(id).Error(0)
}

type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Sign(ctx context.Context, appID string) (string, error) {
	args := m.Called(ctx, appID)
	return args.String(0), args.Error(1)
}

type testEnv struct {
	server     *Server
	activities *activity.Set
	downloads  *MockDownloader
	library    *library.Store
	storage    storage.Storage
	runners    map[activity.Category]*tasks.Runner
	dir        string
}

func newTestServer(t *testing.T, signer Signer) *testEnv {
	t.Helper()
	loop := mainloop.New()
	t.Cleanup(loop.Start())

	lib, err := library.Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })

	dir := t.TempDir()
	store, err := storage.NewLocalFileStorage(filepath.Join(dir, "packages"))
	require.NoError(t, err)

	env := &testEnv{
		activities: activity.NewSet(loop, activity.WithCompletedGrace(time.Hour)),
		downloads:  new(MockDownloader),
		library:    lib,
		storage:    store,
		runners:    make(map[activity.Category]*tasks.Runner),
		dir:        dir,
	}

	ops := operation.NewTable()
	cancelers := make(map[activity.Category]Canceler)
	for _, c := range []activity.Category{activity.CategorySign, activity.CategoryModify, activity.CategoryInstall} {
		registry := env.activities.Registry(c)
		mon := monitor.New(registry, monitor.WithInterval(2*time.Millisecond), monitor.WithFailedGrace(time.Hour))
		r := tasks.NewRunner(registry, ops, mon)
		t.Cleanup(r.Close)
		env.runners[c] = r
		cancelers[c] = r
	}

	env.server = New(Options{
		Activities: env.activities,
		Downloads:  env.downloads,
		Library:    lib,
		Storage:    store,
		Signer:     signer,
		Installer:  tasks.NewInstallService(env.runners[activity.CategoryInstall], lib, store, filepath.Join(dir, "scratch")),
		Tasks:      cancelers,
		ScratchDir: filepath.Join(dir, "scratch"),
	})
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) saveApp(t *testing.T, id string, kind library.Kind) *library.App {
	t.Helper()
	appDir := filepath.Join(e.dir, "apps", id)
	require.NoError(t, os.MkdirAll(appDir, 0755))
	app := &library.App{ID: id, Name: "App " + id, BundleID: "com.example." + id, Kind: kind, Path: appDir}
	require.NoError(t, e.library.Save(context.Background(), app))
	return app
}

func TestHealthCheck(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t, nil)

	rr := env.do(http.MethodOptions, "/api/v1/downloads", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestListActivities(t *testing.T) {
	env := newTestServer(t, nil)
	env.activities.Downloads().Add("d1", "Download", "com.d", "")
	env.activities.Signing().Add("s1", "Sign", "com.s", "icon.png")
	env.activities.Signing().UpdateStatus("s1", activity.Signing)

	rr := env.do(http.MethodGet, "/api/v1/activities", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ActivitiesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Sections, 4)

	var order []activity.Category
	for _, sec := range resp.Sections {
		order = append(order, sec.Category)
	}
	assert.Equal(t, activity.Categories, order)

	require.Len(t, resp.Sections[1].Records, 1)
	rec := resp.Sections[1].Records[0]
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "icon.png", rec.IconRef)
	assert.Equal(t, activity.KindSigning, rec.Status.Kind)
	assert.Empty(t, resp.Sections[2].Records)
}

func TestGetCategory(t *testing.T) {
	env := newTestServer(t, nil)
	env.activities.Installing().Add("i1", "Install", "com.i", "")

	rr := env.do(http.MethodGet, "/api/v1/activities/install", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var section activity.Section
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &section))
	assert.Equal(t, activity.CategoryInstall, section.Category)
	require.Len(t, section.Records, 1)
	assert.Equal(t, "i1", section.Records[0].ID)

	rr = env.do(http.MethodGet, "/api/v1/activities/upload", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartDownload(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		startErr       error
		expectedStatus int
	}{
		{
			name:           "valid request",
			body:           download.Request{URL: "https://example.com/app.ipa", Name: "App"},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "missing url",
			body:           download.Request{Name: "App"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			body:           "invalid json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unsupported url",
			body:           download.Request{URL: "ftp://example.com/app.ipa"},
			startErr:       fmt.Errorf("%w: ftp://example.com/app.ipa", resolve.ErrUnsupportedURL),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "page without package",
			body:           download.Request{URL: "https://example.com/"},
			startErr:       resolve.ErrNoPackage,
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, nil)
			env.downloads.On("Start", mock.Anything, mock.Anything).Return("new-id", tt.startErr).Maybe()

			rr := env.do(http.MethodPost, "/api/v1/downloads", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)

			if tt.expectedStatus == http.StatusAccepted {
				var resp AcceptedResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, "new-id", resp.ID)
				env.downloads.AssertCalled(t, "Start", mock.Anything, tt.body)
			}
		})
	}
}

func TestCancelDownload(t *testing.T) {
	env := newTestServer(t, nil)
	env.downloads.On("Cancel", "running").Return(nil)
	env.downloads.On("Cancel", "gone").Return(fmt.Errorf("%w: gone", download.ErrNotRunning))

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/v1/downloads/running", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/downloads/gone", nil).Code)
	env.downloads.AssertExpectations(t)
}

func TestApps(t *testing.T) {
	env := newTestServer(t, nil)
	env.saveApp(t, "a1", library.KindImported)
	env.saveApp(t, "a2", library.KindSigned)

	t.Run("list all", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/apps", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var apps []library.App
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apps))
		assert.Len(t, apps, 2)
	})

	t.Run("list by kind", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/apps?kind=signed", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var apps []library.App
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &apps))
		require.Len(t, apps, 1)
		assert.Equal(t, "a2", apps[0].ID)
	})

	t.Run("unknown kind", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/apps?kind=beta", nil).Code)
	})

	t.Run("get", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/apps/a1", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var app library.App
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &app))
		assert.Equal(t, "com.example.a1", app.BundleID)

		assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/apps/missing", nil).Code)
	})
}

func TestDownloadPackage(t *testing.T) {
	env := newTestServer(t, nil)
	env.saveApp(t, "a1", library.KindImported)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/apps/a1/package", nil).Code)

	src := filepath.Join(env.dir, "a1.ipa")
	require.NoError(t, os.WriteFile(src, []byte("package bytes"), 0644))
	_, err := env.storage.SavePackage(context.Background(), "a1", src)
	require.NoError(t, err)

	rr := env.do(http.MethodGet, "/api/v1/apps/a1/package", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "package bytes", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "App a1.ipa")
}

func TestDeleteApp(t *testing.T) {
	env := newTestServer(t, nil)
	app := env.saveApp(t, "a1", library.KindImported)

	src := filepath.Join(env.dir, "a1.ipa")
	require.NoError(t, os.WriteFile(src, []byte("package bytes"), 0644))
	_, err := env.storage.SavePackage(context.Background(), "a1", src)
	require.NoError(t, err)

	rr := env.do(http.MethodDelete, "/api/v1/apps/a1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.NoDirExists(t, app.Path)
	assert.False(t, env.storage.PackageExists(context.Background(), "a1"))
	_, err = env.library.Get(context.Background(), "a1")
	assert.ErrorIs(t, err, library.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/apps/a1", nil).Code)
}

func TestSignApp(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestServer(t, nil)
		env.saveApp(t, "a1", library.KindImported)
		assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodPost, "/api/v1/apps/a1/sign", nil).Code)
	})

	t.Run("started", func(t *testing.T) {
		signer := new(MockSigner)
		signer.On("Sign", mock.Anything, "a1").Return("sign-id", nil)
		signer.On("Sign", mock.Anything, "missing").Return("", library.ErrNotFound)
		env := newTestServer(t, signer)

		rr := env.do(http.MethodPost, "/api/v1/apps/a1/sign", nil)
		require.Equal(t, http.StatusAccepted, rr.Code)
		var resp AcceptedResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "sign-id", resp.ID)

		assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/apps/missing/sign", nil).Code)
		signer.AssertExpectations(t)
	})
}

func TestStreamActivities(t *testing.T) {
	env := newTestServer(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/activities/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() ActivitiesResponse {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				var view ActivitiesResponse
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &view))
				return view
			}
		}
	}

	initial := next()
	assert.Equal(t, 0, initial.Total)

	env.activities.Modifying().Add("m1", "Modify", "com.m", "")
	for {
		view := next()
		if view.Total == 1 {
			require.Len(t, view.Sections[2].Records, 1)
			assert.Equal(t, "m1", view.Sections[2].Records[0].ID)
			break
		}
	}
}

func TestCleanupScratch(t *testing.T) {
	env := newTestServer(t, nil)
	scratch := env.server.scratchDir
	require.NoError(t, os.MkdirAll(scratch, 0755))

	old := filepath.Join(scratch, "old.ipa")
	fresh := filepath.Join(scratch, "fresh.ipa")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, env.server.cleanupScratch(time.Now().Add(-DefaultScratchTTL)))
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal App", "Normal App"},
		{"App/With\\Slashes", "App_With_Slashes"},
		{"App: Pro?", "App_ Pro_"},
		{"  .hidden.  ", "hidden"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func (e *testEnv) waitForRecord(t *testing.T, c activity.Category, id string, kind activity.Kind) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, ok := e.activities.Registry(c).Get(id)
		return ok && rec.Status.Kind == kind
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelActivity(t *testing.T) {
	env := newTestServer(t, nil)

	stopped := make(chan struct{})
	id, err := env.runners[activity.CategoryModify].Run(tasks.Job{Name: "Patch"}, func(ctx context.Context, report func(float64)) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	require.NoError(t, err)
	env.waitForRecord(t, activity.CategoryModify, id, activity.KindModifying)

	rr := env.do(http.MethodDelete, "/api/v1/activities/modify/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("work was not cancelled")
	}
	assert.Eventually(t, func() bool {
		return env.activities.Modifying().Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/activities/modify/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/activities/upload/"+id, nil).Code)
}

func TestCancelActivityRoutesDownloads(t *testing.T) {
	env := newTestServer(t, nil)
	env.downloads.On("Cancel", "d1").Return(nil)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/v1/activities/download/d1", nil).Code)
	env.downloads.AssertExpectations(t)
}

func writeSignedBundle(t *testing.T, dir string) {
	t.Helper()
	appDir := filepath.Join(dir, "Payload", "Demo.app")
	require.NoError(t, os.MkdirAll(appDir, 0755))
	data, err := plist.Marshal(map[string]any{
		"CFBundleName":       "Demo",
		"CFBundleIdentifier": "com.example.demo",
	}, plist.XMLFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "Info.plist"), data, 0644))
}

func TestInstallApp(t *testing.T) {
	env := newTestServer(t, nil)
	signed := env.saveApp(t, "s1", library.KindSigned)
	writeSignedBundle(t, signed.Path)
	env.saveApp(t, "i1", library.KindImported)

	rr := env.do(http.MethodPost, "/api/v1/apps/s1/install", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp AcceptedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	env.waitForRecord(t, activity.CategoryInstall, resp.ID, activity.KindCompleted)
	assert.True(t, env.storage.PackageExists(context.Background(), resp.ID))

	assert.Equal(t, http.StatusUnprocessableEntity, env.do(http.MethodPost, "/api/v1/apps/i1/install", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/apps/missing/install", nil).Code)
}
