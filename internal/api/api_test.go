package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildforge/internal/model"
	"buildforge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "buildforge.db")

	runner, err := store.NewMigrationRunner(&store.MigrationConfig{
		DatabaseURL:    dbPath,
		DatabaseType:   "sqlite",
		MigrationsPath: "../store/migrations",
	})
	require.NoError(t, err)
	require.NoError(t, runner.RunMigrations())
	require.NoError(t, runner.Close())

	s, err := store.Open("sqlite", dbPath)
	require.NoError(t, err)
	return s
}

func TestHealthz_ReturnsOK(t *testing.T) {
	s := newTestStore(t)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetBuildReport_FoundReturnsReport(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBuildReport(context.Background(), model.BuildReport{
		BuildID:       "build-1",
		TotalPackages: 2,
		Successful:    2,
		TotalDuration: 5 * time.Second,
	}))

	router := NewRouter(s)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/build-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got model.BuildReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "build-1", got.BuildID)
	assert.Equal(t, 2, got.TotalPackages)
}

func TestGetBuildReport_MissingReturns404(t *testing.T) {
	s := newTestStore(t)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPackageReport_FoundReturnsReport(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SavePackageReport(context.Background(), "build-2", model.PackageBuildReport{
		PackageName: "widgets",
		Status:      model.ReportSuccess,
	}))

	router := NewRouter(s)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/build-2/packages/widgets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got model.PackageBuildReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "widgets", got.PackageName)
}

func TestGetPackageReport_MissingReturns404(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBuildReport(context.Background(), model.BuildReport{BuildID: "build-3"}))

	router := NewRouter(s)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/build-3/packages/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint_Serves(t *testing.T) {
	s := newTestStore(t)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
