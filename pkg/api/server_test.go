package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscache/dscache/internal/backend"
	"github.com/dscache/dscache/internal/metrics"
	"github.com/dscache/dscache/internal/store"
	"github.com/dscache/dscache/pkg/health"
	"github.com/dscache/dscache/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	be, err := backend.NewLocal(t.TempDir())
	require.NoError(t, err)

	cfg := store.DefaultHybridConfig()
	cfg.SweepInterval = 0
	cache, err := store.NewHybridCache(context.Background(), cfg, be, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	checker := health.NewChecker(be, 0)
	return NewServer(DefaultConfig(), cache, checker, metrics.NewRecorder("dscache_test"), zerolog.Nop())
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
}

func TestStoreAndLoadBlob(t *testing.T) {
	srv := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/raw", bytes.NewReader([]byte("payload")))
	put.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/items/raw", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("payload"), rec.Body.Bytes())
}

func TestStoreAndLoadTable(t *testing.T) {
	srv := newTestServer(t)

	table := types.Table{Columns: []types.Column{
		{Name: "id", Type: types.ColumnInt64, Int64s: []int64{1, 2, 3}},
		{Name: "name", Type: types.ColumnString, Strings: []string{"a", "b", "c"}},
	}}
	body, err := json.Marshal(&table)
	require.NoError(t, err)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/tbl", bytes.NewReader(body))
	put.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/items/tbl", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.NumRows())
	assert.Equal(t, 2, got.NumColumns())
}

func TestStoreTableWithCharsetParameter(t *testing.T) {
	srv := newTestServer(t)

	table := types.Table{Columns: []types.Column{
		{Name: "id", Type: types.ColumnInt64, Int64s: []int64{1, 2, 3}},
	}}
	body, err := json.Marshal(&table)
	require.NoError(t, err)

	// Media type parameters must not demote the table to a blob.
	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/tbl", bytes.NewReader(body))
	put.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/items/tbl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got types.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.NumRows())
}

func TestStoreInvalidTable(t *testing.T) {
	srv := newTestServer(t)

	// Columns with mismatched row counts fail validation.
	table := types.Table{Columns: []types.Column{
		{Name: "id", Type: types.ColumnInt64, Int64s: []int64{1, 2}},
		{Name: "name", Type: types.ColumnString, Strings: []string{"only"}},
	}}
	body, err := json.Marshal(&table)
	require.NoError(t, err)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/bad", bytes.NewReader(body))
	put.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadMissing(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope/items/key", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvictSession(t *testing.T) {
	srv := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/raw", bytes.NewReader([]byte("x")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The durable copy survives memory eviction, so the item still loads.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/items/raw", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDescribeSession(t *testing.T) {
	srv := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/raw", bytes.NewReader([]byte("payload")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info types.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, 1, info.ItemCount)
	assert.Positive(t, info.SizeBytes)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTouch(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/touch", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStats(t *testing.T) {
	srv := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/items/raw", bytes.NewReader([]byte("payload")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats types.StorageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.SessionCount)
	assert.Positive(t, stats.MemoryUsedBytes)
	assert.Positive(t, stats.DiskUsedBytes)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StateHealthy, report.State)
	assert.Equal(t, "local", report.Backend)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
