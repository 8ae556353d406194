// maintenance.go - ручной запуск sweep и сверки хранилищ.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/service"
)

// SweepRunner - синхронный проход удаления истёкших объектов.
type SweepRunner interface {
	RunOnce(ctx context.Context) *service.SweepResult
}

// ReconcileRunner - интерфейс для запуска сверки.
type ReconcileRunner interface {
	// RunOnce выполняет одну сверку.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool)
}

// MaintenanceHandler - обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	sweeper    SweepRunner
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(sweeper SweepRunner, reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper, reconciler: reconciler}
}

// RunSweep обрабатывает POST /api/v1/maintenance/sweep.
// Параллельный вызов ждёт завершения текущего прохода.
func (h *MaintenanceHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	res := h.sweeper.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, generated.SweepResponse{
		Now:           res.Now,
		Scanned:       res.Scanned,
		Deleted:       res.Deleted,
		AlreadyAbsent: res.AlreadyAbsent,
		Errors:        res.Errors,
		ScanFailed:    res.ScanFailed,
		DurationMs:    res.Duration.Milliseconds(),
	})
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Если сверка уже выполняется - 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, generated.ReconcileResponse{
		StartedAt:    res.StartedAt,
		CompletedAt:  res.CompletedAt,
		BlobsChecked: res.BlobsChecked,
		Skipped:      res.Skipped,
		Orphans:      res.Orphans,
		Deleted:      res.Deleted,
		Errors:       res.Errors,
	})
}
