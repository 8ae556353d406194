// Пакет storage - контракт хранилища бинарных данных (Blob Store)
// и общие для драйверов функции работы с ключами.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// Ошибки blob-хранилища.
var (
	// ErrNotFound - blob не найден.
	ErrNotFound = errors.New("blob не найден")
	// ErrInvalidKey - ключ содержит недопустимые символы.
	ErrInvalidKey = errors.New("недопустимый ключ blob")
)

// BlobInfo - сведения о blob'е для сверки хранилищ.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// BlobStore - хранилище бинарных данных по ключу.
type BlobStore interface {
	// Put записывает данные и возвращает локатор (URL) blob'а.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Delete удаляет blob. Отсутствие blob'а - не ошибка (AlreadyAbsent).
	Delete(ctx context.Context, key string) (model.DeleteResult, error)
	// LocatorFor возвращает локатор существующего blob'а или ErrNotFound.
	LocatorFor(ctx context.Context, key string) (string, error)
	// List перечисляет все blob'ы хранилища.
	List(ctx context.Context) iter.Seq2[BlobInfo, error]
}

// maxKeyLen - максимальная длина ключа.
const maxKeyLen = 128

// knownExtensions - расширения для распространённых MIME-типов изображений.
// mime.ExtensionsByType возвращает варианты в системно-зависимом порядке,
// поэтому для них расширение фиксировано.
var knownExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/avif":    ".avif",
	"image/heic":    ".heic",
	"image/svg+xml": ".svg",
	"image/x-icon":  ".ico",
}

// NewKey генерирует уникальный ключ blob'а: UUID v4 + расширение по MIME-типу.
func NewKey(contentType string) string {
	return uuid.New().String() + ExtensionFor(contentType)
}

// ExtensionFor возвращает расширение файла для MIME-типа или ".bin".
func ExtensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// ValidateKey проверяет ключ: латиница, цифры, '-', '_', '.';
// без ведущей точки и без разделителей пути.
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyLen || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.'
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
