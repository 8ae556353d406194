// Пакет repository - хранилище метаданных объектов (Metadata Store).
// Контракт MetadataStore реализуется несколькими драйверами:
// PostgreSQL (pgx), SQLite (modernc), Redis (go-redis) и in-memory.
// Все реализации безопасны для конкурентного использования.
package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateID - запись с таким id (или blob_key) уже существует.
	ErrDuplicateID = errors.New("запись с таким идентификатором уже существует")
	// ErrShortLinkSet - короткая ссылка уже записана.
	ErrShortLinkSet = errors.New("короткая ссылка уже установлена")
)

// MetadataStore - хранилище записей ObjectRecord.
type MetadataStore interface {
	// Create сохраняет запись. Пустой ID заполняется новым UUID.
	// Возвращает ID записи или ErrDuplicateID.
	Create(ctx context.Context, rec *model.ObjectRecord) (string, error)
	// Get возвращает запись по ID или ErrNotFound.
	Get(ctx context.Context, id string) (*model.ObjectRecord, error)
	// Delete удаляет запись. Отсутствие записи - не ошибка (AlreadyAbsent).
	Delete(ctx context.Context, id string) (model.DeleteResult, error)
	// FindExpired возвращает записи с expires_at <= now.
	// Набор фиксируется при вызове: записи с created_at > now не попадают.
	// Элементы выдаются лениво; ошибка выдаётся последним элементом.
	FindExpired(ctx context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error]
	// AttachShortLink записывает короткую ссылку, если она ещё не задана.
	// Возвращает ErrShortLinkSet или ErrNotFound.
	AttachShortLink(ctx context.Context, id, link string) error
	// HasBlobKey проверяет, ссылается ли какая-либо запись на blob.
	HasBlobKey(ctx context.Context, blobKey string) (bool, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close() error
}

// DBTX - интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// errSeq возвращает последовательность из одной ошибки.
func errSeq(err error) iter.Seq2[*model.ObjectRecord, error] {
	return func(yield func(*model.ObjectRecord, error) bool) {
		yield(nil, err)
	}
}
