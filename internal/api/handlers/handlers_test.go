package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydranamed/internal/api/handlers"
	"github.com/jroosing/hydranamed/internal/api/models"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/server"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleZone = `$TTL 300
@    IN SOA ns1.example.com. admin.example.com. 42 3600 900 604800 86400
@    IN NS  ns1.example.com.
ns1  IN A   192.0.2.53
www  IN A   192.0.2.80
`

// memLoader serves configuration text that tests can swap between reloads.
type memLoader struct {
	mu   sync.Mutex
	body string
}

func (l *memLoader) set(body string) {
	l.mu.Lock()
	l.body = body
	l.mu.Unlock()
}

func (l *memLoader) Load(string) (*config.Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return config.Parse([]byte(l.body))
}

type fixture struct {
	srv    *server.Server
	loader *memLoader
	router *gin.Engine
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.zone"), []byte(exampleZone), 0o644))

	loader := &memLoader{}
	f := &fixture{loader: loader, dir: dir}
	f.setConfig("")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(server.Options{Loader: loader, Logger: logger, DisableListeners: true})
	require.NoError(t, err)
	f.srv = srv

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-srv.Done()
	})
	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	f.router = setupTestRouter(handlers.New(srv, logger))
	return f
}

func (f *fixture) setConfig(extra string) {
	f.loader.set("options:\n  directory: " + f.dir + "\n" + `
views:
  - name: internal
    zones:
      - name: example.com
        file: example.com.zone
  - name: external
    zones:
      - name: example.com
        file: example.com.zone
` + extra)
}

func setupTestRouter(h *handlers.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)
	api.GET("/status", h.Status)
	api.POST("/reload", h.Reload)
	api.GET("/views", h.ListViews)
	api.GET("/views/:view/zones", h.ListZones)
	api.GET("/views/:view/zones/:zone", h.GetZone)
	api.GET("/views/:view/cache", h.DumpCache)
	return r
}

func (f *fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var resp models.StatusResponse
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/health", &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	var resp models.ServerStatusResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/status", &resp))

	assert.Equal(t, "running", resp.Phase)
	assert.NotEmpty(t, resp.Generation)
	assert.Equal(t, 3, resp.Views, "internal, external and _version")
	assert.Equal(t, 3, resp.Zones)
	assert.NotNil(t, resp.Listening)
	assert.Positive(t, resp.GoRoutines)
}

func TestListViews(t *testing.T) {
	f := newFixture(t)
	var resp models.ViewListResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/views", &resp))

	require.Equal(t, 3, resp.Count)
	names := make([]string, 0, resp.Count)
	for _, v := range resp.Views {
		names = append(names, v.Name+"/"+v.Class)
		assert.Equal(t, "frozen", v.State)
	}
	assert.Equal(t, []string{"internal/IN", "external/IN", "_version/CH"}, names)
	assert.True(t, resp.Views[0].Recursion)
	assert.Equal(t, 1, resp.Views[0].Zones)
}

func TestListZones(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantZone string
	}{
		{"by name", "/api/v1/views/internal/zones", http.StatusOK, "example.com."},
		{"with class", "/api/v1/views/_version/zones?class=ch", http.StatusOK, "version.bind."},
		{"class mismatch", "/api/v1/views/_version/zones?class=IN", http.StatusNotFound, ""},
		{"bad class", "/api/v1/views/internal/zones?class=XYZ", http.StatusBadRequest, ""},
		{"missing view", "/api/v1/views/nope/zones", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp models.ZoneListResponse
			var out any = &resp
			if tt.wantCode != http.StatusOK {
				out = &models.ErrorResponse{}
			}
			require.Equal(t, tt.wantCode, f.do(t, http.MethodGet, tt.path, out))
			if tt.wantCode == http.StatusOK {
				require.Equal(t, 1, resp.Count)
				assert.Equal(t, tt.wantZone, resp.Zones[0].Name)
				assert.True(t, resp.Zones[0].Loaded)
			}
		})
	}
}

func TestGetZone(t *testing.T) {
	f := newFixture(t)

	var resp models.ZoneDetailResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/views/external/zones/example.com", &resp))
	assert.Equal(t, "external", resp.View)
	assert.Equal(t, "master", resp.Type)
	assert.Equal(t, uint32(42), resp.Serial)
	assert.Equal(t, 4, resp.RecordCount)
	require.Len(t, resp.Records, 4)

	var www *models.ZoneRecord
	for i := range resp.Records {
		if resp.Records[i].Name == "www.example.com." {
			www = &resp.Records[i]
		}
	}
	require.NotNil(t, www)
	assert.Equal(t, "A", www.Type)
	assert.Equal(t, "192.0.2.80", www.Value)
	assert.Equal(t, uint32(300), www.TTL)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/views/external/zones/example.org", &errResp))
	assert.Equal(t, "zone not found", errResp.Error)
}

func TestReload(t *testing.T) {
	f := newFixture(t)

	var before models.ServerStatusResponse
	f.do(t, http.MethodGet, "/api/v1/status", &before)

	var ok models.ReloadResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/reload", &ok))
	assert.Equal(t, "reloaded", ok.Status)
	assert.NotEqual(t, before.Generation, ok.Generation)

	// A rejected configuration keeps the generation that was serving.
	f.setConfig("      - name: example.com\n        file: example.com.zone\n")
	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/api/v1/reload", &errResp))
	assert.NotEmpty(t, errResp.Error)

	var after models.ServerStatusResponse
	f.do(t, http.MethodGet, "/api/v1/status", &after)
	assert.Equal(t, ok.Generation, after.Generation)
	assert.NotEmpty(t, after.LastError)
}

func TestReloadAfterShutdownConflicts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.srv.Shutdown(context.Background()))

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/v1/reload", &errResp))
}

func TestDumpCache(t *testing.T) {
	f := newFixture(t)

	l := f.srv.Views()
	v, err := l.Find("internal", dns.ClassINET)
	require.NoError(t, err)
	rr, err := dns.NewRR("cached.example.net. 600 IN A 203.0.113.7")
	require.NoError(t, err)
	v.Cache().Add([]dns.RR{rr})
	l.Release()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/views/internal/cache", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "cached.example.net.")
	assert.Contains(t, w.Body.String(), "203.0.113.7")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/views/external/cache", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String(), "caches are per view")

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/views/_version/cache", &errResp))
	assert.Equal(t, "view has no cache", errResp.Error)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/views/nope/cache", &errResp))
}
