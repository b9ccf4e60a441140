package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerScrapesOwnRegistry(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.CacheHitsTotal.Inc()
	m.FallbacksTotal.WithLabelValues("phrase").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "study_search_cache_hits_total 1")
	assert.Contains(t, body, `study_search_search_fallbacks_total{strategy="phrase"} 2`)
}

func TestNewWithRegistryIsRepeatable(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
