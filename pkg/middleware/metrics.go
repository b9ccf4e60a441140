// Package middleware holds the HTTP middleware shared by the services:
// request IDs, metrics, timeouts, CORS and per-client rate limiting.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
)

const studiesPrefix = "/api/v1/studies/"

// routes are the path labels the services expose. Anything else is
// reported as "other" so scanners cannot grow the label set.
var routes = map[string]struct{}{
	"/api/v1/studies":           {},
	"/api/v1/studies/search":    {},
	"/api/v1/facets":            {},
	"/api/v1/spell-check":       {},
	"/api/v1/reload":            {},
	"/api/v1/cache/stats":       {},
	"/api/v1/cache/invalidate":  {},
	"/api/v1/health":            {},
	"/api/v1/analytics":         {},
	"/api/v1/analytics/history": {},
	"/health/live":              {},
	"/health/ready":             {},
}

// Metrics records request count by route and status class, latency by
// route, and the in-flight gauge.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// routeLabel maps a request path onto a bounded route label; study ids
// collapse to {id}.
func routeLabel(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if _, ok := routes[path]; ok {
		return path
	}
	if rest, ok := strings.CutPrefix(path, studiesPrefix); ok && rest != "" {
		return studiesPrefix + "{id}"
	}
	return "other"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
