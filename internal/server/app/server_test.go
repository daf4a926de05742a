package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/internal/config"
	"safeconnect/internal/dataset"
	"safeconnect/pkg/model"
)

func TestServer_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := config.Config{}
	cfg.Data.ConnectionsFile = filepath.Join(dir, "connections.json")
	cfg.Data.ReputationFile = filepath.Join(dir, "abuseip.json")
	cfg.Data.HistoryFile = filepath.Join(dir, "history.json")
	cfg.Server.Listen = "127.0.0.1:0"

	now := time.Now()
	require.NoError(t, dataset.SaveConnections(cfg.Data.ConnectionsFile, dataset.Connections{"203.0.113.7": {RemotePort: 443}}))
	require.NoError(t, dataset.SaveHistory(cfg.Data.HistoryFile, dataset.History{
		"203.0.113.7": {FirstSeen: model.At(now), LastSeen: model.At(now), TimesSeen: 1, RiskLevel: model.RiskMalicious},
	}))

	srv, err := NewServer(cfg, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/api/data", "/api/history", "/healthz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `safeconnect_active_connections{risk_level="MALICIOUS"} 1`)
	assert.Contains(t, string(body), `safeconnect_datasets_up 1`)

	require.NoError(t, srv.Shutdown(context.Background()))
}
