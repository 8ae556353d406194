// upload.go - сервис загрузки изображений.
//
// Поток:
//  1. Запись blob'а
//  2. Создание записи метаданных (при ошибке blob удаляется)
//  3. Сокращение ссылки /image/{id}
//  4. Запись короткой ссылки в метаданные
//
// Ошибка шагов 3–4 не делает загрузку неуспешной.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/config"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/events"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/shortener"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_uploads_total",
		Help: "Общее количество загрузок (по статусу).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_upload_bytes_total",
		Help: "Общее количество загруженных байт.",
	})

	shortenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_shorten_total",
		Help: "Результаты сокращения ссылок (ok, error, skipped).",
	}, []string{"result"})
)

// defaultContentType - MIME-тип, если клиент его не передал.
const defaultContentType = "application/octet-stream"

// UploadParams - параметры загрузки изображения.
type UploadParams struct {
	// Reader - поток данных изображения
	Reader io.Reader
	// OriginalName - имя файла у клиента
	OriginalName string
	// ContentType - MIME-тип
	ContentType string
	// Size - размер (из заголовка multipart part)
	Size int64
	// TTL - запрошенное время жизни (0 - по умолчанию)
	TTL time.Duration
}

// UploadResult - результат загрузки.
type UploadResult struct {
	Record *model.ObjectRecord
	// Locator - адрес blob'а
	Locator string
	// ShortLink - короткая ссылка или, если сокращение не удалось,
	// полная ссылка /image/{id}
	ShortLink string
	// Shortened - ссылка действительно сокращена
	Shortened bool
}

// UploadError - ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadService - сервис загрузки изображений.
type UploadService struct {
	cfg       *config.Config
	meta      repository.MetadataStore
	blobs     storage.BlobStore
	shortener shortener.Shortener
	events    events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки. pub может быть nil.
func NewUploadService(
	cfg *config.Config,
	meta repository.MetadataStore,
	blobs storage.BlobStore,
	short shortener.Shortener,
	pub events.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
) *UploadService {
	if pub == nil {
		pub = events.Noop{}
	}
	return &UploadService{
		cfg:       cfg,
		meta:      meta,
		blobs:     blobs,
		shortener: short,
		events:    pub,
		clock:     clk,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// ParseExpirySeconds разбирает поле expirySeconds.
// Отсутствующее, нечисловое или неположительное значение даёт 0
// (TTL по умолчанию).
func ParseExpirySeconds(raw string) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	// Защита от переполнения time.Duration
	if n > int64((1<<63-1)/int64(time.Second)) {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(n) * time.Second
}

// EffectiveTTL применяет значение по умолчанию и ограничение сверху.
func (s *UploadService) EffectiveTTL(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && requested > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}
	return requested
}

// ImageURL возвращает публичную ссылку на объект.
func (s *UploadService) ImageURL(id string) string {
	return s.cfg.PublicURL + "/image/" + id
}

// Upload сохраняет изображение и создаёт запись.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, *UploadError) {
	if params.Size > s.cfg.MaxUploadSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, &UploadError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.Size, s.cfg.MaxUploadSize),
		}
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	ttl := s.EffectiveTTL(params.TTL)

	// 1. Blob пишется до записи: запись никогда не ссылается на несуществующий blob
	blobKey := storage.NewKey(contentType)
	locator, err := s.blobs.Put(ctx, blobKey, params.Reader, contentType)
	if err != nil {
		s.logger.Error("Ошибка сохранения blob",
			slog.String("blob_key", blobKey),
			slog.String("error", err.Error()),
		)
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения изображения",
		}
	}

	// 2. Запись метаданных. PostgreSQL хранит микросекунды.
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	rec := &model.ObjectRecord{
		ID:           uuid.New().String(),
		OriginalName: params.OriginalName,
		BlobKey:      blobKey,
		ContentType:  contentType,
		Size:         params.Size,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if _, err := s.meta.Create(ctx, rec); err != nil {
		s.logger.Error("Ошибка создания записи",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		// Blob без записи недостижим; если удалить не удалось, его найдёт сверка
		if _, delErr := s.blobs.Delete(context.WithoutCancel(ctx), blobKey); delErr != nil {
			s.logger.Warn("Не удалось удалить blob после ошибки создания записи",
				slog.String("blob_key", blobKey),
				slog.String("error", delErr.Error()),
			)
		}
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, &UploadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения метаданных",
		}
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(params.Size))

	if err := s.events.Publish(ctx, events.NewEvent(events.TypeCreated, rec, now)); err != nil {
		s.logger.Warn("Ошибка публикации события создания",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	// 3–4. Сокращение ссылки
	shortLink, shortened := s.shorten(ctx, rec)
	if shortened {
		rec.ShortLink = shortLink
	}

	s.logger.Info("Изображение загружено",
		slog.String("id", rec.ID),
		slog.String("blob_key", blobKey),
		slog.Int64("size", rec.Size),
		slog.Duration("ttl", ttl),
		slog.Bool("shortened", shortened),
	)

	return &UploadResult{
		Record:    rec,
		Locator:   locator,
		ShortLink: shortLink,
		Shortened: shortened,
	}, nil
}

// shorten сокращает ссылку на объект и записывает её в метаданные.
// Любая ошибка логируется; в этом случае возвращается полная ссылка.
func (s *UploadService) shorten(ctx context.Context, rec *model.ObjectRecord) (string, bool) {
	longURL := s.ImageURL(rec.ID)

	shortCtx := ctx
	if s.cfg.ShortenTimeout > 0 {
		var cancel context.CancelFunc
		shortCtx, cancel = context.WithTimeout(ctx, s.cfg.ShortenTimeout)
		defer cancel()
	}

	link, err := s.shortener.Shorten(shortCtx, longURL)
	if err != nil {
		s.logger.Warn("Ошибка сокращения ссылки",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		shortenTotal.WithLabelValues("error").Inc()
		return longURL, false
	}
	if link == longURL {
		shortenTotal.WithLabelValues("skipped").Inc()
		return longURL, false
	}
	shortenTotal.WithLabelValues("ok").Inc()

	if err := s.meta.AttachShortLink(ctx, rec.ID, link); err != nil {
		s.logger.Warn("Ошибка записи короткой ссылки",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	return link, true
}
