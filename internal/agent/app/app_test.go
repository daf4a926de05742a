package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/internal/config"
	"safeconnect/internal/dataset"
)

func intPtr(v int) *int { return &v }

func testConfig(t *testing.T, abuseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{}
	cfg.Data.ConnectionsFile = filepath.Join(dir, "connections.json")
	cfg.Data.ReputationFile = filepath.Join(dir, "abuseip.json")
	cfg.Data.HistoryFile = filepath.Join(dir, "history.json")
	cfg.Classify.SafeThreshold = intPtr(20)
	cfg.Classify.MaliciousThreshold = intPtr(50)
	cfg.Engine.RescanInterval = time.Hour
	cfg.Engine.CycleInterval = 50 * time.Millisecond
	cfg.Engine.LookupDelay = time.Millisecond
	cfg.Snapshot.Interval = 50 * time.Millisecond
	cfg.Snapshot.Source = config.SourceNetstat
	cfg.Reputation.AbuseIPDB.URL = abuseURL
	cfg.Reputation.AbuseIPDB.APIKey = "test"
	cfg.Reputation.SkipReverseDNS = true
	config.ApplyDefaults(&cfg)
	return cfg
}

func TestRun_PersistsAndStopsOnCancel(t *testing.T) {
	abuse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"abuseConfidenceScore":0,"countryCode":"US"}}`))
	}))
	defer abuse.Close()

	cfg := testConfig(t, abuse.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	require.NoError(t, Run(ctx, cfg, zerolog.Nop()))

	assert.FileExists(t, cfg.Data.ConnectionsFile)
	assert.FileExists(t, cfg.Data.HistoryFile)
	assert.FileExists(t, cfg.Data.ReputationFile)

	conns, err := dataset.LoadConnections(cfg.Data.ConnectionsFile, zerolog.Nop())
	require.NoError(t, err)
	for ip := range conns {
		assert.NotEqual(t, "127.0.0.1", ip)
	}
}

func TestRun_InvalidThresholds(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Classify.SafeThreshold = intPtr(60)
	err := Run(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "必须小于")
}

func TestRun_UnknownSource(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Snapshot.Source = "bogus"
	assert.Error(t, Run(context.Background(), cfg, zerolog.Nop()))
}

func TestNewProvider_OptionalSources(t *testing.T) {
	cfg := config.ReputationConfig{SkipReverseDNS: true}
	cfg.AbuseIPDB.URL = "http://127.0.0.1:1"
	assert.NotNil(t, newProvider(cfg, zerolog.Nop()))
}
