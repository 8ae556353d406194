// reconcile.go - сверка blob-хранилища с метаданными.
//
// Сбой между записью blob'а и созданием записи оставляет blob без
// метаданных. Такие blob'ы недостижимы через API и удаляются, если
// они старше периода ожидания (SD_RECONCILE_GRACE): более молодые
// могут принадлежать загрузке, которая ещё выполняется.
//
// Запускается как горутина с периодическим тикером (SD_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileOrphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_reconcile_orphans_total",
		Help: "Осиротевшие blob'ы по результату (deleted, error)",
	}, []string{"result"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sd_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileResult - результат одной сверки.
type ReconcileResult struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	// BlobsChecked - просмотрено blob'ов
	BlobsChecked int `json:"blobs_checked"`
	// Skipped - моложе периода ожидания
	Skipped int `json:"skipped"`
	// Orphans - найдено blob'ов без записи
	Orphans int `json:"orphans"`
	// Deleted - удалено осиротевших blob'ов
	Deleted int `json:"deleted"`
	// Errors - ошибки проверки или удаления
	Errors int `json:"errors"`
}

// ReconcileService - сервис фоновой сверки хранилищ.
type ReconcileService struct {
	meta     repository.MetadataStore
	blobs    storage.BlobStore
	clock    clock.Clock
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	meta repository.MetadataStore,
	blobs storage.BlobStore,
	clk clock.Clock,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		meta:     meta,
		blobs:    blobs,
		clock:    clk,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.String("grace", rs.grace.String()),
	)
}

// Stop останавливает фоновый процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run - основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет одну сверку.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := rs.clock.Now()
	result := &ReconcileResult{StartedAt: startedAt}
	rs.logger.Info("Сверка начата")

	for info, err := range rs.blobs.List(ctx) {
		if err != nil {
			rs.logger.Error("Ошибка получения списка blob'ов",
				slog.String("error", err.Error()),
			)
			result.Errors++
			break
		}
		result.BlobsChecked++

		// Без времени изменения возраст неизвестен
		if info.ModTime.IsZero() || startedAt.Sub(info.ModTime) < rs.grace {
			result.Skipped++
			continue
		}

		has, err := rs.meta.HasBlobKey(ctx, info.Key)
		if err != nil {
			rs.logger.Error("Ошибка проверки blob_key",
				slog.String("blob_key", info.Key),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if has {
			continue
		}

		result.Orphans++
		res, err := rs.blobs.Delete(ctx, info.Key)
		if err != nil {
			rs.logger.Error("Ошибка удаления осиротевшего blob",
				slog.String("blob_key", info.Key),
				slog.String("error", err.Error()),
			)
			reconcileOrphansTotal.WithLabelValues("error").Inc()
			result.Errors++
			continue
		}
		if res == model.Deleted {
			result.Deleted++
			reconcileOrphansTotal.WithLabelValues("deleted").Inc()
		}
		rs.logger.Info("Осиротевший blob удалён",
			slog.String("blob_key", info.Key),
			slog.Time("mod_time", info.ModTime),
		)
	}

	result.CompletedAt = rs.clock.Now()
	duration := result.CompletedAt.Sub(startedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("blobs_checked", result.BlobsChecked),
		slog.Int("orphans", result.Orphans),
		slog.Int("deleted", result.Deleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", duration),
	)

	return result, false
}
