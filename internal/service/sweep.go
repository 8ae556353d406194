// sweep.go - фоновое удаление истёкших объектов.
//
// Каждый проход один раз читает часы, берёт снимок истёкших записей
// (expires_at <= now) и удаляет их по одной той же последовательностью,
// что и ленивое удаление. Ошибка по одной записи не прерывает проход.
//
// Запускается как горутина с периодическим тикером (SD_SWEEP_INTERVAL).
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
)

// Prometheus метрики фонового удаления
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_sweep_runs_total",
		Help: "Общее количество проходов фонового удаления",
	})

	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_sweep_deleted_total",
		Help: "Общее количество объектов, удалённых фоновым удалением",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_sweep_errors_total",
		Help: "Общее количество ошибок при удалении объектов",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sd_sweep_duration_seconds",
		Help:    "Длительность прохода фонового удаления в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult - результат одного прохода.
type SweepResult struct {
	// Now - момент, относительно которого выбирались истёкшие записи
	Now time.Time `json:"now"`
	// Scanned - количество записей в снимке
	Scanned int `json:"scanned"`
	// Deleted - записи, удалённые этим проходом
	Deleted int `json:"deleted"`
	// AlreadyAbsent - записи, уже удалённые конкурентно (ленивым удалением)
	AlreadyAbsent int `json:"already_absent"`
	// Errors - записи, удаление которых не удалось
	Errors int `json:"errors"`
	// ScanFailed - выборка прервалась с ошибкой
	ScanFailed bool `json:"scan_failed"`
	// Duration - длительность прохода
	Duration time.Duration `json:"duration_ns"`
}

// SweepService - сервис фонового удаления.
type SweepService struct {
	meta     repository.MetadataStore
	deleter  *Deleter
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepService создаёт сервис фонового удаления.
// timeout ограничивает один проход (0 - без ограничения).
func NewSweepService(
	meta repository.MetadataStore,
	deleter *Deleter,
	clk clock.Clock,
	interval time.Duration,
	timeout time.Duration,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		meta:     meta,
		deleter:  deleter,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "sweep")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// Вызывается один раз при старте приложения.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Фоновое удаление запущено",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего прохода.
func (s *SweepService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Фоновое удаление остановлено")
}

// run - основной цикл фоновой горутины.
func (s *SweepService) run(ctx context.Context) {
	defer close(s.done)

	// Первый проход - сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход.
// Потокобезопасен: параллельные вызовы выполняются по очереди.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	now := s.clock.Now()
	result := &SweepResult{Now: now}

	s.logger.Debug("Проход фонового удаления начат", slog.Time("now", now))

	seen := make(map[string]struct{})
	for rec, err := range s.meta.FindExpired(ctx, now) {
		if err != nil {
			s.logger.Error("Ошибка выборки истёкших записей",
				slog.String("error", err.Error()),
			)
			result.ScanFailed = true
			break
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		result.Scanned++

		out, err := s.deleter.Delete(ctx, rec, ReaperSweep)
		if err != nil {
			s.logger.Error("Ошибка удаления объекта",
				slog.String("id", rec.ID),
				slog.String("blob_key", rec.BlobKey),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		if out.Metadata == model.Deleted {
			result.Deleted++
		} else {
			result.AlreadyAbsent++
		}
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepDeletedTotal.Add(float64(result.Deleted))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Проход фонового удаления завершён",
		slog.Int("scanned", result.Scanned),
		slog.Int("deleted", result.Deleted),
		slog.Int("already_absent", result.AlreadyAbsent),
		slog.Int("errors", result.Errors),
		slog.Bool("scan_failed", result.ScanFailed),
		slog.Duration("duration", result.Duration),
	)

	return result
}
