// blobs.go - выдача blob'ов драйвера fs самим сервисом (GET /blobs/{key}).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/api/generated"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// blobCSP запрещает исполнение активного содержимого blob'а.
const blobCSP = "default-src 'none'; sandbox"

// inlineExtensions - растровые форматы, которые отдаются с собственным
// MIME-типом. Остальное (svg, html и т.д.) отдаётся как вложение.
var inlineExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".avif": true,
	".ico":  true,
}

// BlobOpener открывает локальный blob.
type BlobOpener interface {
	Open(key string) (*os.File, error)
}

// BlobsHandler - обработчик GET /blobs/{key}.
type BlobsHandler struct {
	opener BlobOpener
	logger *slog.Logger
}

// NewBlobsHandler создаёт обработчик. opener == nil - выдача отключена (404).
func NewBlobsHandler(opener BlobOpener, logger *slog.Logger) *BlobsHandler {
	return &BlobsHandler{
		opener: opener,
		logger: logger.With(slog.String("component", "blobs_handler")),
	}
}

// GetBlob отдаёт содержимое blob'а. Поддерживает Range через http.ServeContent.
// Истечение здесь не проверяется: после удаления blob'а ответ - 404.
func (h *BlobsHandler) GetBlob(w http.ResponseWriter, r *http.Request, key generated.BlobKey) {
	if h.opener == nil {
		apierrors.NotFound(w, "Локальная выдача blob'ов отключена")
		return
	}

	f, err := h.opener.Open(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			apierrors.NotFound(w, "Blob не найден")
			return
		}
		h.logger.Error("Ошибка открытия blob",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения blob")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apierrors.InternalError(w, "Ошибка чтения blob")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", blobCSP)
	if !inlineExtensions[strings.ToLower(path.Ext(key))] {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", "attachment")
	}
	http.ServeContent(w, r, key, info.ModTime(), f)
}
