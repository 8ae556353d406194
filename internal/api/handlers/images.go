// images.go - HTTP handlers загрузки и чтения изображений.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/service"
)

const (
	// multipartOverhead - запас на заголовки multipart сверх размера файла.
	multipartOverhead = 1 << 20
	// multipartMemory - объём формы, разбираемый в памяти; остальное во временных файлах.
	multipartMemory = 8 << 20
)

// Uploader - сервис загрузки.
type Uploader interface {
	Upload(ctx context.Context, params service.UploadParams) (*service.UploadResult, *service.UploadError)
}

// ImageResolver - ленивое чтение объекта с удалением истёкших.
type ImageResolver interface {
	Resolve(ctx context.Context, id string) (*service.Resolution, error)
}

// ImagesHandler - обработчик POST /upload и GET /image/{id}.
type ImagesHandler struct {
	uploader      Uploader
	resolver      ImageResolver
	maxUploadSize int64
	logger        *slog.Logger
}

// NewImagesHandler создаёт обработчик изображений.
func NewImagesHandler(uploader Uploader, resolver ImageResolver, maxUploadSize int64, logger *slog.Logger) *ImagesHandler {
	return &ImagesHandler{
		uploader:      uploader,
		resolver:      resolver,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "images_handler")),
	}
}

// UploadImage обрабатывает POST /upload.
// Multipart form: image (обязательно), expirySeconds (опционально).
// Ответ всегда в формате {"success": ...}.
func (h *ImagesHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			apierrors.UploadFailure(w, http.StatusRequestEntityTooLarge, "Размер запроса превышает допустимый")
			return
		}
		apierrors.UploadFailure(w, http.StatusBadRequest, "Ошибка разбора multipart: ожидается multipart/form-data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		apierrors.UploadFailure(w, http.StatusBadRequest, "Поле 'image' обязательно")
		return
	}
	defer file.Close()

	result, uploadErr := h.uploader.Upload(r.Context(), service.UploadParams{
		Reader:       file,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		TTL:          service.ParseExpirySeconds(r.FormValue("expirySeconds")),
	})
	if uploadErr != nil {
		apierrors.UploadFailure(w, uploadErr.StatusCode, uploadErr.Message)
		return
	}

	if subject := middleware.SubjectFromContext(r.Context()); subject != "" {
		h.logger.Debug("Загрузка от пользователя",
			slog.String("id", result.Record.ID),
			slog.String("subject", subject),
		)
	}

	expiresAt := result.Record.ExpiresAt
	writeJSON(w, http.StatusOK, generated.UploadResponse{
		Success:   true,
		Id:        &result.Record.ID,
		ShortLink: &result.ShortLink,
		ExpiresAt: &expiresAt,
		Shortened: &result.Shortened,
	})
}

// GetImage обрабатывает GET /image/{id}.
// Живой объект - 302 на blob, истёкший - 410 (объект удаляется),
// неизвестный - 404, сбой хранилища - 500.
func (h *ImagesHandler) GetImage(w http.ResponseWriter, r *http.Request, id generated.ImageId) {
	setNoStoreHeaders(w)

	res, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		h.logger.Error("Ошибка чтения объекта",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при чтении объекта")
		return
	}

	switch res.Outcome {
	case service.OutcomeLive:
		http.Redirect(w, r, res.Locator, http.StatusFound)
	case service.OutcomeGone:
		apierrors.Gone(w, "Срок жизни объекта истёк")
	default:
		apierrors.NotFound(w, "Объект не найден")
	}
}

// setNoStoreHeaders запрещает кэширование ответа и встраивание в чужие страницы.
func setNoStoreHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// isBodyTooLarge распознаёт срабатывание http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// mime/multipart не везде оборачивает исходную ошибку
	return strings.Contains(err.Error(), "request body too large")
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
