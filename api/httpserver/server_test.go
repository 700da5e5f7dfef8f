package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flashbots/statledger/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type pingService struct{}

func (pingService) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]string
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec.Code, body
}

func TestBaseServerReadiness(t *testing.T) {
	srv, err := New(&HTTPServerConfig{}, nil, pingService{})
	require.NoError(t, err)
	h := srv.Handler()

	code, body := get(t, h, "/livez")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alive", body["status"])

	code, _ = get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, h, "/drain")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "draining", body["status"])
	require.False(t, srv.Ready())

	code, _ = get(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, h, "/drain")
	require.Equal(t, "already draining", body["status"])

	_, body = get(t, h, "/undrain")
	require.Equal(t, "ready", body["status"])
	require.True(t, srv.Ready())
}

func TestBaseServerRoutes(t *testing.T) {
	srv, err := New(&HTTPServerConfig{}, nil, pingService{})
	require.NoError(t, err)
	require.NotNil(t, srv.Metrics())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, "pong", rec.Body.String())

	_, body := get(t, srv.Handler(), "/version")
	require.Equal(t, common.PackageName, body["name"])
	require.Equal(t, common.Version, body["version"])

	code, _ := get(t, srv.Handler(), "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, code)
}
