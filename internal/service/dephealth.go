// dephealth.go - интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Self-Destruct Module мониторит:
//   - PostgreSQL - SQL checker через существующий pgxpool (драйвер postgres, critical)
//   - S3-совместимое хранилище - HTTP checker (драйвер s3 с собственным endpoint, critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health - состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds - задержка проверки
//   - app_dependency_status - категория статуса
//   - app_dependency_status_detail - детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для S3
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies - нечего мониторить.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthTargets - зависимости для мониторинга.
type DephealthTargets struct {
	// DB - *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	DB *sql.DB
	// PGConnURL - URL PostgreSQL (для лейблов, не для подключения)
	PGConnURL string
	// S3Endpoint - endpoint S3-совместимого хранилища
	S3Endpoint string
	// S3HealthPath - путь health-проверки (/minio/health/live)
	S3HealthPath string
}

// Empty возвращает true, если не задана ни одна зависимость.
func (t DephealthTargets) Empty() bool {
	return t.DB == nil && t.S3Endpoint == ""
}

// DephealthService - сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID - имя вершины графа текущего приложения (SD_SERVICE_ID)
//   - group - имя группы в метриках (SD_DEPHEALTH_GROUP)
//   - checkInterval - интервал проверки (SD_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService - внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if targets.Empty() {
		return nil, ErrNoDependencies
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
	}
	if targets.DB != nil {
		// pgcheck.New + AddDependency напрямую, без contrib/sqldb
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)),
			dephealth.FromURL(targets.PGConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}
	if targets.S3Endpoint != "" {
		healthPath := targets.S3HealthPath
		if healthPath == "" {
			healthPath = "/"
		}
		opts = append(opts, dephealth.HTTP("s3",
			dephealth.FromURL(targets.S3Endpoint),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ - имя зависимости, значение - true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
