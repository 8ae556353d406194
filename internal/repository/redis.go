package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// Раскладка ключей Redis:
//
//	{prefix}obj:{id}   - hash с полями записи
//	{prefix}expiry     - sorted set: member = id, score = expires_at (мс Unix)
//	{prefix}blobkeys   - set всех blob_key
const defaultRedisPrefix = "sd:"

// createScript атомарно создаёт запись, отвергая повтор id и blob_key.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('SISMEMBER', KEYS[3], ARGV[3]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'original_name', ARGV[2], 'blob_key', ARGV[3],
	'content_type', ARGV[4], 'size', ARGV[5], 'created_at', ARGV[6],
	'expires_at', ARGV[7], 'short_link', ARGV[8])
redis.call('ZADD', KEYS[2], ARGV[9], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[3])
return 1
`)

// deleteScript атомарно удаляет hash, элемент индекса истечения и blob_key.
var deleteScript = redis.NewScript(`
local bk = redis.call('HGET', KEYS[1], 'blob_key')
if not bk then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], bk)
return 1
`)

// attachScript записывает short_link, только если он пуст.
// -1 - записи нет, 0 - ссылка уже задана, 1 - записано.
var attachScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = redis.call('HGET', KEYS[1], 'short_link')
if cur and cur ~= '' then return 0 end
redis.call('HSET', KEYS[1], 'short_link', ARGV[1])
return 1
`)

// RedisStore - MetadataStore поверх Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore подключается к Redis по URL и проверяет доступность.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора URL Redis: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	return &RedisStore{client: client, prefix: defaultRedisPrefix}, nil
}

func (s *RedisStore) objKey(id string) string { return s.prefix + "obj:" + id }
func (s *RedisStore) expiryKey() string       { return s.prefix + "expiry" }
func (s *RedisStore) blobKeysKey() string     { return s.prefix + "blobkeys" }

// Create атомарно создаёт запись.
func (s *RedisStore) Create(ctx context.Context, rec *model.ObjectRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.objKey(rec.ID), s.expiryKey(), s.blobKeysKey()},
		rec.ID, rec.OriginalName, rec.BlobKey, rec.ContentType,
		strconv.FormatInt(rec.Size, 10),
		strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
		rec.ShortLink,
		rec.ExpiresAt.UnixMilli(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("ошибка создания записи: %w", err)
	}
	if created == 0 {
		return "", ErrDuplicateID
	}
	return rec.ID, nil
}

// Get возвращает запись по ID или ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.ObjectRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.objKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseRedisObject(fields)
}

// Delete атомарно удаляет запись.
func (s *RedisStore) Delete(ctx context.Context, id string) (model.DeleteResult, error) {
	removed, err := deleteScript.Run(ctx, s.client,
		[]string{s.objKey(id), s.expiryKey(), s.blobKeysKey()}, id,
	).Int()
	if err != nil {
		return model.AlreadyAbsent, fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if removed == 0 {
		return model.AlreadyAbsent, nil
	}
	return model.Deleted, nil
}

// FindExpired фиксирует список id одним ZRANGEBYSCORE, затем лениво
// читает записи. Удалённые к моменту чтения записи пропускаются.
// Индекс хранит миллисекунды, поэтому точное сравнение выполняется
// по полям hash.
func (s *RedisStore) FindExpired(ctx context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error] {
	return func(yield func(*model.ObjectRecord, error) bool) {
		ids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		if err != nil {
			yield(nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err))
			return
		}

		for _, id := range ids {
			rec, err := s.Get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !rec.IsExpired(now) || rec.CreatedAt.After(now) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// AttachShortLink записывает короткую ссылку, если она ещё не задана.
func (s *RedisStore) AttachShortLink(ctx context.Context, id, link string) error {
	res, err := attachScript.Run(ctx, s.client, []string{s.objKey(id)}, link).Int()
	if err != nil {
		return fmt.Errorf("ошибка записи короткой ссылки: %w", err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrShortLinkSet
	}
	return nil
}

// HasBlobKey проверяет наличие blob_key в множестве ключей.
func (s *RedisStore) HasBlobKey(ctx context.Context, blobKey string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.blobKeysKey(), blobKey).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки blob_key: %w", err)
	}
	return ok, nil
}

// Ping проверяет доступность Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// parseRedisObject собирает ObjectRecord из полей hash.
func parseRedisObject(fields map[string]string) (*model.ObjectRecord, error) {
	size, err := strconv.ParseInt(fields["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректное поле size: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректное поле created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректное поле expires_at: %w", err)
	}

	return &model.ObjectRecord{
		ID:           fields["id"],
		OriginalName: fields["original_name"],
		BlobKey:      fields["blob_key"],
		ContentType:  fields["content_type"],
		Size:         size,
		CreatedAt:    time.Unix(0, createdAt).UTC(),
		ExpiresAt:    time.Unix(0, expiresAt).UTC(),
		ShortLink:    fields["short_link"],
	}, nil
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ MetadataStore = (*RedisStore)(nil)
