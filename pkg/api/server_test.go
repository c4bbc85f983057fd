package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/supervisor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "svcmaster.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
supervisor:
  base_dir: `+dir+`
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
`), 0o644))

	config, err := supervisor.LoadConfig(configPath)
	require.NoError(t, err)

	logger := logging.NewLogger("", logging.LogFuncs{})
	sup, err := supervisor.New(config, logger)
	require.NoError(t, err)

	return NewServer(sup, "127.0.0.1:0", logger)
}

func TestServer_HealthzDegradedWhenNotRunning(t *testing.T) {
	server := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var response healthzResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "stopped", response.Services["web_server"])
	assert.False(t, response.Timestamp.IsZero())
}

func TestServer_Status(t *testing.T) {
	server := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var snapshot supervisor.StatusSnapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snapshot))
	assert.Equal(t, os.Getpid(), snapshot.ManagerPID)
	require.Contains(t, snapshot.Services, "web_server")
	assert.Equal(t, "stopped", snapshot.Services["web_server"].Status)
}

func TestServer_RestartUnknownServiceIs404(t *testing.T) {
	server := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/services/nope/restart", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "unknown service")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "go_goroutines")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server := newTestServer(t)

	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/restart", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
