package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// objectColumns - список столбцов таблицы objects для SELECT-запросов.
const objectColumns = `id, original_name, blob_key, content_type, size,
	created_at, expires_at, short_link`

// pgUniqueViolation - код ошибки PostgreSQL при нарушении уникальности.
const pgUniqueViolation = "23505"

// PostgresStore - MetadataStore поверх PostgreSQL.
// Чистый SQL через pgx, без ORM.
type PostgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт хранилище поверх пула подключений.
// Пул переходит во владение хранилища и закрывается в Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// Create вставляет новую запись.
func (s *PostgresStore) Create(ctx context.Context, rec *model.ObjectRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO objects (id, original_name, blob_key, content_type, size, created_at, expires_at, short_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OriginalName, rec.BlobKey, rec.ContentType, rec.Size,
		rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(), nullString(rec.ShortLink),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", ErrDuplicateID
		}
		return "", fmt.Errorf("ошибка создания записи: %w", err)
	}
	return rec.ID, nil
}

// Get возвращает запись по ID или ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.ObjectRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM objects WHERE id = $1`, objectColumns)

	rec, err := scanObject(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// Delete удаляет запись по ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) (model.DeleteResult, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM objects WHERE id = $1`, id)
	if err != nil {
		return model.AlreadyAbsent, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.AlreadyAbsent, nil
	}
	return model.Deleted, nil
}

// FindExpired выполняет один SELECT: снимок фиксируется на уровне запроса,
// строки читаются из курсора по мере потребления.
func (s *PostgresStore) FindExpired(ctx context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error] {
	return func(yield func(*model.ObjectRecord, error) bool) {
		query := fmt.Sprintf(
			`SELECT %s FROM objects WHERE expires_at <= $1 AND created_at <= $1 ORDER BY expires_at`,
			objectColumns,
		)
		rows, err := s.db.Query(ctx, query, now.UTC())
		if err != nil {
			yield(nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanObject(rows)
			if err != nil {
				yield(nil, fmt.Errorf("ошибка чтения записи: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("ошибка итерации: %w", err))
		}
	}
}

// AttachShortLink записывает короткую ссылку, если она ещё не задана.
func (s *PostgresStore) AttachShortLink(ctx context.Context, id, link string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE objects SET short_link = $2 WHERE id = $1 AND short_link IS NULL`,
		id, link,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи короткой ссылки: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Ничего не обновлено: записи нет или ссылка уже задана
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM objects WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrShortLinkSet
}

// HasBlobKey проверяет наличие записи с указанным blob_key.
func (s *PostgresStore) HasBlobKey(ctx context.Context, blobKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM objects WHERE blob_key = $1)`, blobKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки blob_key: %w", err)
	}
	return exists, nil
}

// Ping проверяет подключение к PostgreSQL.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул подключений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanObject сканирует строку результата в ObjectRecord.
func scanObject(row pgx.Row) (*model.ObjectRecord, error) {
	rec := &model.ObjectRecord{}
	var shortLink *string
	err := row.Scan(
		&rec.ID, &rec.OriginalName, &rec.BlobKey, &rec.ContentType, &rec.Size,
		&rec.CreatedAt, &rec.ExpiresAt, &shortLink,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if shortLink != nil {
		rec.ShortLink = *shortLink
	}
	return rec, nil
}

// nullString преобразует пустую строку в NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ MetadataStore = (*PostgresStore)(nil)
