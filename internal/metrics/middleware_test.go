package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// healthRouter mirrors the health and metrics routes the crawler serves.
func healthRouter(ready bool) http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	ok := httpRequestsTotal.WithLabelValues("GET", "200")
	unavailable := httpRequestsTotal.WithLabelValues("GET", "503")
	okBefore, unavailableBefore := testutil.ToFloat64(ok), testutil.ToFloat64(unavailable)

	require.Equal(t, http.StatusOK, serve(healthRouter(true), "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(healthRouter(false), "/readyz").Code)

	require.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	require.Equal(t, unavailableBefore+1, testutil.ToFloat64(unavailable))
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	Init()
	h := healthRouter(true)
	serve(h, "/readyz")
	serve(h, "/nope")

	body := serve(h, "/metrics").Body.String()
	require.True(t, strings.Contains(body, `http_request_duration_seconds_count{method="GET",route="/readyz"}`))
	require.True(t, strings.Contains(body, `http_request_duration_seconds_count{method="GET",route="unknown"}`))
	require.Contains(t, body, `http_requests_total{code="200",method="GET"}`)
}
