package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeconnect/internal/dataset"
	"safeconnect/internal/server/storage"
	"safeconnect/pkg/model"
)

type fakeStore struct {
	load func(ctx context.Context) (*dataset.Snapshot, error)
}

func (f *fakeStore) Load(ctx context.Context) (*dataset.Snapshot, error) {
	return f.load(ctx)
}

func (f *fakeStore) Close() error {
	return nil
}

var _ storage.Store = (*fakeStore)(nil)

func intp(v int) *int { return &v }

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fixture：203.0.113.7 在线且恶意；198.51.100.2 已断开；192.0.2.1 在线但从未分类。
func fixture() *dataset.Snapshot {
	return &dataset.Snapshot{
		Connections: dataset.Connections{
			"203.0.113.7": {RemotePort: 443, LocalIP: "192.168.1.10", LocalPort: 50000, PID: 42, Checked: true},
			"192.0.2.1":   {RemotePort: 22},
		},
		Reputation: dataset.Reputation{
			"203.0.113.7":  {IP: "203.0.113.7", ConfidenceScore: intp(75), CountryCode: "NL", ASN: intp(64500), Hostname: "bad.example"},
			"198.51.100.2": {IP: "198.51.100.2", ConfidenceScore: intp(0), CountryCode: "US"},
		},
		History: dataset.History{
			"203.0.113.7": {
				FirstSeen: model.At(base.Add(-time.Hour)), LastSeen: model.At(base),
				LastScanned: model.At(base.Add(-time.Hour)), TimesSeen: 3, RiskLevel: model.RiskMalicious,
			},
			"198.51.100.2": {
				FirstSeen: model.At(base.Add(-48 * time.Hour)), LastSeen: model.At(base.Add(-24 * time.Hour)),
				LastScanned: model.At(base.Add(-48 * time.Hour)), TimesSeen: 9, RiskLevel: model.RiskSafe,
			},
		},
	}
}

func newRouter(store storage.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(store)
	r := gin.New()
	r.GET("/api/data", h.Data)
	r.GET("/api/history", h.History)
	r.GET("/healthz", h.Healthz)
	return r
}

func get(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func staticStore(s *dataset.Snapshot) *fakeStore {
	return &fakeStore{load: func(context.Context) (*dataset.Snapshot, error) { return s, nil }}
}

func TestData(t *testing.T) {
	w := get(t, newRouter(staticStore(fixture())), "/api/data")
	require.Equal(t, http.StatusOK, w.Code)

	var got model.DashboardData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	assert.Equal(t, model.Stats{All: 2, Malicious: 1, Unknown: 1}, got.Stats)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.UniqueCountries)
	require.Len(t, got.Connections, 2)

	assert.Equal(t, model.ConnectionView{
		IP: "192.0.2.1", LocalIP: model.PlaceholderNA, RemotePort: 22,
		RiskLevel: model.RiskUnknown, Country: model.PlaceholderNA, Hostname: model.PlaceholderNA,
		ASN: model.PlaceholderNA, AbuseScore: model.PlaceholderNA, LastScanned: model.PlaceholderNever,
	}, got.Connections[0])
	assert.Equal(t, model.ConnectionView{
		IP: "203.0.113.7", LocalIP: "192.168.1.10", LocalPort: 50000, RemotePort: 443, PID: 42,
		RiskLevel: model.RiskMalicious, Country: "NL", Hostname: "bad.example",
		ASN: "64500", AbuseScore: "75", LastScanned: "2026-05-01T11:00:00Z",
	}, got.Connections[1])
}

func TestData_DisappearedIPNotActive(t *testing.T) {
	w := get(t, newRouter(staticStore(fixture())), "/api/data")
	var got model.DashboardData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	for _, c := range got.Connections {
		assert.NotEqual(t, "198.51.100.2", c.IP)
	}

	w = get(t, newRouter(staticStore(fixture())), "/api/history")
	require.Equal(t, http.StatusOK, w.Code)
	var hist []model.HistoryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 2)

	// last_seen 倒序
	assert.Equal(t, "203.0.113.7", hist[0].IP)
	assert.True(t, hist[0].IsActive)
	assert.Equal(t, "198.51.100.2", hist[1].IP)
	assert.False(t, hist[1].IsActive)
	assert.Equal(t, "US", hist[1].Country)
	assert.Equal(t, "0", hist[1].AbuseScore)
	assert.Equal(t, model.PlaceholderNA, hist[1].Hostname)
	assert.Equal(t, 9, hist[1].TimesSeen)
}

func TestHistory_Filters(t *testing.T) {
	r := newRouter(staticStore(fixture()))

	var hist []model.HistoryView
	w := get(t, r, "/api/history?risk=malicious")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, "203.0.113.7", hist[0].IP)

	w = get(t, r, "/api/history?active=false")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, "198.51.100.2", hist[0].IP)

	w = get(t, r, "/api/history?risk=SAFE&active=true")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Empty(t, hist)
}

func TestHistory_BadParams(t *testing.T) {
	r := newRouter(staticStore(fixture()))
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/history?risk=spicy").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/history?active=maybe").Code)
}

func TestHistory_MissingTimestampsUsePlaceholders(t *testing.T) {
	snap := &dataset.Snapshot{History: dataset.History{"192.0.2.9": {TimesSeen: 1, RiskLevel: model.RiskUnknown}}}
	got := BuildHistory(snap, HistoryFilter{})
	require.Len(t, got, 1)
	assert.Equal(t, model.PlaceholderNA, got[0].FirstSeen)
	assert.Equal(t, model.PlaceholderNA, got[0].LastSeen)
	assert.Equal(t, model.PlaceholderNever, got[0].LastScanned)
	assert.False(t, got[0].IsActive)
}

func TestStoreError(t *testing.T) {
	r := newRouter(&fakeStore{load: func(context.Context) (*dataset.Snapshot, error) {
		return nil, errors.New("disk gone")
	}})
	assert.Equal(t, http.StatusInternalServerError, get(t, r, "/api/data").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, r, "/api/history").Code)
}

func TestEmptyDatasets(t *testing.T) {
	r := newRouter(staticStore(&dataset.Snapshot{}))
	w := get(t, r, "/api/data")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stats":{"all":0,"safe":0,"suspicious":0,"malicious":0,"unknown":0},"total":0,"unique_countries":0,"connections":[]}`, w.Body.String())

	w = get(t, r, "/api/history")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealthz(t *testing.T) {
	w := get(t, newRouter(staticStore(nil)), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}
