package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/pkg/model"
)

func TestConnections_RendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/data", r.URL.Path)
		_ = json.NewEncoder(w).Encode(model.DashboardData{
			Stats: model.Stats{All: 1, Malicious: 1},
			Total: 1,
			Connections: []model.ConnectionView{{
				IP: "203.0.113.7", RemotePort: 443, LocalIP: "192.168.1.10", LocalPort: 50000,
				RiskLevel: model.RiskMalicious, AbuseScore: "75", Country: "NL",
				ASN: model.PlaceholderNA, Hostname: "bad.example", LastScanned: model.PlaceholderNever,
			}},
		})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	require.NoError(t, Connections(context.Background(), Config{Server: srv.URL, Out: &buf}))
	out := buf.String()
	assert.Contains(t, out, "203.0.113.7")
	assert.Contains(t, out, "MALICIOUS")
	assert.Contains(t, out, "bad.example")
	assert.Contains(t, out, "192.168.1.10:50000")
}

func TestHistory_PassesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/history", r.URL.Path)
		assert.Equal(t, "MALICIOUS", r.URL.Query().Get("risk"))
		assert.Equal(t, "false", r.URL.Query().Get("active"))
		_ = json.NewEncoder(w).Encode([]model.HistoryView{{IP: "198.51.100.2", TimesSeen: 9, RiskLevel: model.RiskSafe}})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := History(context.Background(), Config{Server: srv.URL, Out: &buf}, HistoryQuery{Risk: "MALICIOUS", Active: "false"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "198.51.100.2")
	assert.Contains(t, buf.String(), "no")
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"risk 参数非法"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := History(context.Background(), Config{Server: srv.URL, Out: &bytes.Buffer{}}, HistoryQuery{Risk: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFetch_BadServer(t *testing.T) {
	err := Connections(context.Background(), Config{Server: "::not a url", Out: &bytes.Buffer{}})
	assert.Error(t, err)
}
