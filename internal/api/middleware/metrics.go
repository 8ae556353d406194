// metrics.go - Prometheus HTTP метрики:
// sd_http_requests_total, sd_http_request_duration_seconds.
// Бизнес-метрики регистрируются в пакете service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal - общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sd_http_requests_total",
			Help: "Общее количество HTTP-запросов к Self-Destruct Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration - гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Self-Destruct Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет переменные сегменты пути шаблонами,
// чтобы кардинальность лейблов не росла с числом объектов.
// /image/a1b2... → /image/{id}, /blobs/x.png → /blobs/{key}.
// Неизвестные пути сводятся к "other".
func normalizePath(path string) string {
	switch path {
	case "/upload", "/health/live", "/health/ready", "/metrics",
		"/api/v1/maintenance/sweep", "/api/v1/maintenance/reconcile":
		return path
	}

	switch {
	case isSingleSegment(path, "/image/"):
		return "/image/{id}"
	case isSingleSegment(path, "/blobs/"):
		return "/blobs/{key}"
	}
	return "other"
}

// isSingleSegment проверяет, что после prefix идёт ровно один непустой сегмент.
func isSingleSegment(path, prefix string) bool {
	rest, ok := strings.CutPrefix(path, prefix)
	return ok && rest != "" && !strings.Contains(rest, "/")
}
