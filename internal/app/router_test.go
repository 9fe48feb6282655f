package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/purchasing/internal/observability"
	_ "github.com/odyssey-erp/purchasing/internal/testing/guard"
	"github.com/odyssey-erp/purchasing/jobs"
)

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Config:     &Config{AppEnv: "development", RateLimitPerMinute: 100},
		JobHandler: jobs.NewHandler(nil, nil),
		Metrics:    observability.NewMetrics(),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rr.Header().Get("X-Ratelimit-Limit"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `purchasing_http_requests_total{code="200",route="/healthz"} 1`)
}
