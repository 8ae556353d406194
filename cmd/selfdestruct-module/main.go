// Точка входа Self-Destruct Module - хранилища изображений с ограниченным
// временем жизни. Загружает конфигурацию, открывает хранилище метаданных
// и blob-хранилище, создаёт сервисный слой и API handlers, запускает
// фоновые задачи (удаление истёкших объектов, сверка, topologymetrics)
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/config"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/database"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/events"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/server"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/service"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/shortener"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Self-Destruct Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("meta_driver", cfg.MetaDriver),
		slog.String("blob_driver", cfg.BlobDriver),
	)

	if os.Getenv("SD_DEPHEALTH_GROUP") == "" {
		logger.Warn("SD_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилище метаданных
	meta, pgDB, err := openMetadataStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища метаданных",
			slog.String("driver", cfg.MetaDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer meta.Close()
	if pgDB != nil {
		defer pgDB.Close()
	}
	logger.Info("Хранилище метаданных открыто", slog.String("driver", cfg.MetaDriver))

	// 4. Blob-хранилище
	blobs, opener, err := openBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка открытия blob-хранилища",
			slog.String("driver", cfg.BlobDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Blob-хранилище открыто",
		slog.String("driver", cfg.BlobDriver),
		slog.Bool("serve_local", opener != nil),
	)

	// 5. Сокращатель ссылок
	var short shortener.Shortener = shortener.Noop{}
	if cfg.BitlyToken != "" {
		short = shortener.NewBitly(cfg.BitlyURL, cfg.BitlyToken, cfg.ShortenTimeout, logger)
		logger.Info("Сокращение ссылок включено", slog.String("url", cfg.BitlyURL))
	} else {
		logger.Info("Сокращение ссылок отключено (SD_BITLY_TOKEN не задан)")
	}

	// 6. Публикация событий жизненного цикла
	var pub events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		natsPub, natsErr := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if natsErr != nil {
			logger.Error("Ошибка подключения к NATS", slog.String("error", natsErr.Error()))
			os.Exit(1)
		}
		pub = natsPub
		logger.Info("Публикация событий включена",
			slog.String("subject", cfg.NATSSubject),
		)
	}
	defer pub.Close()

	// 7. Сервисный слой
	clk := clock.System{}
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	deleter := service.NewDeleter(meta, blobs, cache, pub, clk, logger)
	lazy := service.NewLazyReaper(meta, blobs, cache, deleter, clk, logger)
	sweep := service.NewSweepService(meta, deleter, clk, cfg.SweepInterval, cfg.SweepTimeout, logger)
	reconcile := service.NewReconcileService(meta, blobs, clk, cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
	upload := service.NewUploadService(cfg, meta, blobs, short, pub, clk, logger)

	// 8. JWT middleware (опционально, если задан SD_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("SD_JWKS_URL не задан, загрузка и maintenance доступны без аутентификации")
	}

	// 9. Проверка запросов по OpenAPI контракту
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. API handlers
	imagesHandler := handlers.NewImagesHandler(upload, lazy, cfg.MaxUploadSize, logger)
	blobsHandler := handlers.NewBlobsHandler(opener, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(sweep, reconcile)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"metadata": database.NewReadinessChecker(cfg.MetaDriver, meta),
	})
	apiHandler := handlers.NewAPIHandler(imagesHandler, blobsHandler, maintenanceHandler, healthHandler)

	// 11. Запуск фоновых задач
	sweep.Start(ctx)
	if cfg.ReconcileInterval > 0 {
		reconcile.Start(ctx)
	} else {
		logger.Info("Фоновая сверка отключена (SD_RECONCILE_INTERVAL=0)")
	}

	// 11.1 topologymetrics - мониторинг зависимостей (PostgreSQL + S3)
	targets := service.DephealthTargets{DB: pgDB}
	if pgDB != nil {
		targets.PGConnURL = cfg.DatabaseDSN()
	}
	if cfg.BlobDriver == config.BlobDriverS3 && cfg.S3Endpoint != "" {
		targets.S3Endpoint = cfg.S3Endpoint
		targets.S3HealthPath = cfg.S3HealthPath
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		targets,
		cfg.DephealthCheckInterval,
		logger,
	)
	switch {
	case errors.Is(dephealthErr, service.ErrNoDependencies):
		logger.Info("topologymetrics: внешних зависимостей нет, мониторинг не запущен")
		dephealthSvc = nil
	case dephealthErr != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, server.Options{
		JWTAuth:   jwtAuth,
		Validator: validator.Middleware(),
	})
	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweep.Stop()
	if cfg.ReconcileInterval > 0 {
		reconcile.Stop()
	}
	cancel()

	logger.Info("Self-Destruct Module остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}

// openMetadataStore открывает хранилище метаданных выбранного драйвера.
// Для PostgreSQL дополнительно применяет миграции и возвращает *sql.DB
// поверх пула для topologymetrics.
func openMetadataStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.MetadataStore, *sql.DB, error) {
	switch cfg.MetaDriver {
	case config.MetaDriverPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg.MigrateURL(), logger); err != nil {
			return nil, nil, err
		}
		pool, err := database.Connect(ctx, cfg.DatabaseDSN(), logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresStore(pool), stdlib.OpenDBFromPool(pool), nil

	case config.MetaDriverSQLite:
		store, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case config.MetaDriverRedis:
		store, err := repository.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	default:
		logger.Warn("Метаданные хранятся в памяти и теряются при перезапуске")
		return repository.NewMemoryStore(), nil, nil
	}
}

// openBlobStore открывает blob-хранилище выбранного драйвера.
// opener не nil, только если blob'ы драйвера fs отдаёт сам сервис.
func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, handlers.BlobOpener, error) {
	if cfg.BlobDriver == config.BlobDriverS3 {
		store, err := s3store.New(ctx, s3store.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
			PathStyle: cfg.S3PathStyle,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	store, err := filestore.New(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.BlobServeLocal {
		return store, store, nil
	}
	return store, nil, nil
}
