package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLivenessChecker struct {
	last time.Time
}

func (f fakeLivenessChecker) Liveness() time.Time { return f.last }

func TestRouter_Root(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Readiness(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Liveness_NoTickYetIsHealthy(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Liveness_RecentTickIsHealthy(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{last: time.Now()}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Liveness_StaleTickIsUnhealthy(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{last: time.Now().Add(-time.Hour)}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_liveness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Liveness_ZeroMaxLagDisablesStalenessCheck(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{last: time.Now().Add(-24 * time.Hour)}, 0)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	r := NewRouter(fakeLivenessChecker{last: time.Now()}, time.Minute)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hookrelay_worker_uptime_seconds")
}
