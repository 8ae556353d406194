// health.go - обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/config"
)

// ReadinessChecker - интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	checks  map[string]ReadinessChecker
}

// NewHealthHandler создаёт обработчик. checks - именованные проверки готовности.
func NewHealthHandler(checks map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		checks:  checks,
	}
}

// HealthLive обрабатывает GET /health/live. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, generated.HealthStatus{
		Status:    generated.HealthStatusStatusOk,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Service:   "selfdestruct-module",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Любая неуспешная проверка - 503.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := generated.ReadinessStatus{
		Status:    generated.ReadinessStatusStatusOk,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]generated.CheckResult, len(h.checks)),
	}
	httpStatus := http.StatusOK

	for name, checker := range h.checks {
		status, message := checker.CheckReady()
		result := generated.CheckResult{Status: generated.CheckResultStatusOk}
		if message != "" {
			result.Message = &message
		}
		if status != string(generated.CheckResultStatusOk) {
			result.Status = generated.CheckResultStatusFail
			resp.Status = generated.ReadinessStatusStatusFail
			httpStatus = http.StatusServiceUnavailable
		}
		resp.Checks[name] = result
	}

	writeJSON(w, httpStatus, resp)
}
