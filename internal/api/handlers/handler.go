// handler.go - APIHandler реализует generated.ServerInterface,
// делегируя вызовы в отдельные handler'ы по доменам.
package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
)

// APIHandler - единая реализация ServerInterface.
type APIHandler struct {
	images      *ImagesHandler
	blobs       *BlobsHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
	metrics     http.Handler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	images *ImagesHandler,
	blobs *BlobsHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		images:      images,
		blobs:       blobs,
		maintenance: maintenance,
		health:      health,
		metrics:     promhttp.Handler(),
	}
}

// --- Images ---

func (h *APIHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	h.images.UploadImage(w, r)
}

func (h *APIHandler) GetImage(w http.ResponseWriter, r *http.Request, id generated.ImageId) {
	h.images.GetImage(w, r, id)
}

func (h *APIHandler) GetBlob(w http.ResponseWriter, r *http.Request, key generated.BlobKey) {
	h.blobs.GetBlob(w, r, key)
}

// --- Maintenance ---

func (h *APIHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	h.maintenance.RunSweep(w, r)
}

func (h *APIHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.maintenance.Reconcile(w, r)
}

// --- Health ---

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// --- Metrics ---

func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ generated.ServerInterface = (*APIHandler)(nil)
