package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // драйвер "sqlite"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// sqliteSchema - схема таблицы objects для SQLite.
// Время хранится в наносекундах Unix, чтобы сравнение expires_at <= now
// было точным на границе.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	id            TEXT PRIMARY KEY,
	original_name TEXT NOT NULL,
	blob_key      TEXT NOT NULL UNIQUE,
	content_type  TEXT NOT NULL,
	size          INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	short_link    TEXT
);
CREATE INDEX IF NOT EXISTS idx_objects_expires_at ON objects (expires_at);
`

// SQLiteStore - MetadataStore поверх SQLite (modernc.org/sqlite, без cgo).
// Используется одно соединение: SQLite допускает одного писателя.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite открывает (или создаёт) базу SQLite и применяет схему.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к SQLite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка применения схемы SQLite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create вставляет новую запись.
func (s *SQLiteStore) Create(ctx context.Context, rec *model.ObjectRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var shortLink any
	if rec.ShortLink != "" {
		shortLink = rec.ShortLink
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (id, original_name, blob_key, content_type, size, created_at, expires_at, short_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OriginalName, rec.BlobKey, rec.ContentType, rec.Size,
		rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano(), shortLink,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrDuplicateID
		}
		return "", fmt.Errorf("ошибка создания записи: %w", err)
	}
	return rec.ID, nil
}

// Get возвращает запись по ID или ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.ObjectRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM objects WHERE id = ?`, objectColumns)

	rec, err := scanSQLiteObject(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// Delete удаляет запись по ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (model.DeleteResult, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return model.AlreadyAbsent, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.AlreadyAbsent, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if n == 0 {
		return model.AlreadyAbsent, nil
	}
	return model.Deleted, nil
}

// FindExpired читает снимок целиком до выдачи первого элемента:
// при единственном соединении открытый курсор блокировал бы удаление.
func (s *SQLiteStore) FindExpired(ctx context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error] {
	query := fmt.Sprintf(
		`SELECT %s FROM objects WHERE expires_at <= ? AND created_at <= ? ORDER BY expires_at`,
		objectColumns,
	)

	return func(yield func(*model.ObjectRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, now.UnixNano(), now.UnixNano())
		if err != nil {
			yield(nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err))
			return
		}

		var snapshot []*model.ObjectRecord
		for rows.Next() {
			rec, err := scanSQLiteObject(rows)
			if err != nil {
				rows.Close()
				yield(nil, fmt.Errorf("ошибка чтения записи: %w", err))
				return
			}
			snapshot = append(snapshot, rec)
		}
		iterErr := rows.Err()
		rows.Close()
		if iterErr != nil {
			yield(nil, fmt.Errorf("ошибка итерации: %w", iterErr))
			return
		}

		for _, rec := range snapshot {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// AttachShortLink записывает короткую ссылку, если она ещё не задана.
func (s *SQLiteStore) AttachShortLink(ctx context.Context, id, link string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE objects SET short_link = ? WHERE id = ? AND short_link IS NULL`, link, id)
	if err != nil {
		return fmt.Errorf("ошибка записи короткой ссылки: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM objects WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrShortLinkSet
}

// HasBlobKey проверяет наличие записи с указанным blob_key.
func (s *SQLiteStore) HasBlobKey(ctx context.Context, blobKey string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM objects WHERE blob_key = ?`, blobKey).Scan(&n); err != nil {
		return false, fmt.Errorf("ошибка проверки blob_key: %w", err)
	}
	return n > 0, nil
}

// Ping проверяет доступность базы.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSQLiteObject сканирует строку SQLite в ObjectRecord.
func scanSQLiteObject(row rowScanner) (*model.ObjectRecord, error) {
	rec := &model.ObjectRecord{}
	var createdAt, expiresAt int64
	var shortLink sql.NullString
	err := row.Scan(
		&rec.ID, &rec.OriginalName, &rec.BlobKey, &rec.ContentType, &rec.Size,
		&createdAt, &expiresAt, &shortLink,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	rec.ShortLink = shortLink.String
	return rec, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ MetadataStore = (*SQLiteStore)(nil)
