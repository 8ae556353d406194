// Пакет server - HTTP-сервер Self-Destruct Module с graceful shutdown.
// Без TLS - TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/config"
)

// Пути, требующие аутентификации (если JWT настроен).
const (
	uploadPath        = "/upload"
	maintenancePrefix = "/api/v1/maintenance/"
)

// Server - HTTP-сервер Self-Destruct Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Options - необязательные компоненты сервера.
type Options struct {
	// JWTAuth - nil: запуск без аутентификации
	JWTAuth *middleware.JWTAuth
	// Validator - middleware проверки запросов по OpenAPI контракту (nil - без проверки)
	Validator func(http.Handler) http.Handler
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler generated.ServerInterface, opts Options) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, handler, opts),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер: глобальные middleware и маршруты
// из сгенерированного ServerInterface.
func NewRouter(cfg *config.Config, logger *slog.Logger, handler generated.ServerInterface, opts Options) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Аутентификация до проверки контракта: без токена детали запроса не раскрываются
	if opts.JWTAuth != nil {
		router.Use(jwtAuthForProtected(opts.JWTAuth))
	}
	if opts.Validator != nil {
		router.Use(opts.Validator)
	}

	// Все маршруты через HandlerFromMux (oapi-codegen chi-server).
	generated.HandlerWithOptions(handler, generated.ChiServerOptions{
		BaseRouter: router,
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			apierrors.ValidationError(w, err.Error())
		},
	})

	return router
}

// jwtAuthForProtected применяет JWT только к загрузке и maintenance.
// Чтение изображений, blob'ы, health и metrics остаются публичными.
// Отказ на /upload пишется в формате ответа загрузки.
func jwtAuthForProtected(jwtAuth *middleware.JWTAuth) func(http.Handler) http.Handler {
	uploadAuth := jwtAuth.MiddlewareWith(func(w http.ResponseWriter, message string) {
		apierrors.UploadFailure(w, http.StatusUnauthorized, message)
	})
	maintenanceAuth := jwtAuth.Middleware()
	requireMaintenance := middleware.RequireScope(middleware.ScopeMaintenance)

	return func(next http.Handler) http.Handler {
		upload := uploadAuth(next)
		maintenance := maintenanceAuth(requireMaintenance(next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == uploadPath:
				upload.ServeHTTP(w, r)
			case strings.HasPrefix(r.URL.Path, maintenancePrefix):
				maintenance.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
