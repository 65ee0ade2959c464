package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halyard/halyard/internal/config"
	"github.com/halyard/halyard/internal/testutil"
	"github.com/halyard/halyard/internal/websocket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	tdb := testutil.NewTestDB(t)
	hub := websocket.NewHub()
	go hub.Run()

	cfg := &config.Config{
		Libraries: config.LibrariesConfig{
			MoviesPath: t.TempDir(),
			TVPath:     t.TempDir(),
		},
		Acquisition: config.AcquisitionConfig{AutoBlockAfter: 3},
	}

	return NewServer(tdb.Conn, hub, cfg, tdb.Logger)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["activeCount"])
}

func TestIndexerCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/indexers",
		`{"name":"Test Indexer","type":"torznab","url":"http://indexer.local/api","apiKey":"k","enabled":true,"priority":10,"supportsMovies":true,"supportsSearch":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"].(float64)
	require.NotZero(t, id)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/indexers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Test Indexer")

	rec = doRequest(t, s, http.MethodPut, "/api/v1/indexers/1",
		`{"name":"Renamed","type":"torznab","url":"http://indexer.local/api","enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/indexers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Renamed")

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/indexers/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/indexers/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadClientCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/downloadclients",
		`{"name":"qbt","type":"qbittorrent","kind":"torrent","url":"http://localhost:8081","enabled":true,"priority":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/downloadclients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qbt")

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/downloadclients/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/downloadclients/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/queue", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSearchWithNoIndexers(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/search?query=dune&type=movie", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["total"])
}

func TestBlocklistEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/blocklist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/blocklist/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGrabRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/grab", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomFormatsLoadedFromConfig(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	hub := websocket.NewHub()
	go hub.Run()

	formatsPath := filepath.Join(t.TempDir(), "formats.yaml")
	require.NoError(t, os.WriteFile(formatsPath, []byte(`formats:
  - name: dolby vision bonus
    score: 100
    conditions:
      - field: hdr
        value: dolby_vision
`), 0o644))

	cfg := &config.Config{
		Libraries: config.LibrariesConfig{
			MoviesPath: t.TempDir(),
			TVPath:     t.TempDir(),
		},
		Quality:     config.QualityConfig{FormatsPath: formatsPath},
		Acquisition: config.AcquisitionConfig{AutoBlockAfter: 3},
	}
	s := NewServer(tdb.Conn, hub, cfg, tdb.Logger)

	require.Len(t, s.profile.CustomFormats, 1)
	assert.Equal(t, "dolby vision bonus", s.profile.CustomFormats[0].Name)
	assert.Equal(t, 100, s.profile.CustomFormats[0].Score)
}

func TestCustomFormatsBadFileFallsBack(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	hub := websocket.NewHub()
	go hub.Run()

	cfg := &config.Config{
		Libraries: config.LibrariesConfig{
			MoviesPath: t.TempDir(),
			TVPath:     t.TempDir(),
		},
		Quality:     config.QualityConfig{FormatsPath: filepath.Join(t.TempDir(), "missing.yaml")},
		Acquisition: config.AcquisitionConfig{AutoBlockAfter: 3},
	}
	s := NewServer(tdb.Conn, hub, cfg, tdb.Logger)

	assert.Empty(t, s.profile.CustomFormats)
}

func TestLogsWithoutProvider(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/logs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
