package repository

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// MemoryStore - потокобезопасное in-memory хранилище записей.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи. Не персистентное: используется для
// разработки и тестов.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string]*model.ObjectRecord // id → запись
	blobKeys map[string]string              // blob_key → id
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string]*model.ObjectRecord),
		blobKeys: make(map[string]string),
	}
}

// Create добавляет запись. Хранится копия, внешние изменения rec не влияют.
func (s *MemoryStore) Create(_ context.Context, rec *model.ObjectRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, ok := s.objects[rec.ID]; ok {
		return "", ErrDuplicateID
	}
	if _, ok := s.blobKeys[rec.BlobKey]; ok {
		return "", ErrDuplicateID
	}

	cp := *rec
	s.objects[rec.ID] = &cp
	s.blobKeys[rec.BlobKey] = rec.ID
	return rec.ID, nil
}

// Get возвращает копию записи или ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete удаляет запись.
func (s *MemoryStore) Delete(_ context.Context, id string) (model.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.objects[id]
	if !ok {
		return model.AlreadyAbsent, nil
	}
	delete(s.objects, id)
	delete(s.blobKeys, rec.BlobKey)
	return model.Deleted, nil
}

// FindExpired копирует подходящие записи под блокировкой чтения,
// затем выдаёт их без удержания блокировки.
func (s *MemoryStore) FindExpired(_ context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error] {
	return func(yield func(*model.ObjectRecord, error) bool) {
		s.mu.RLock()
		snapshot := make([]*model.ObjectRecord, 0)
		for _, rec := range s.objects {
			if rec.IsExpired(now) && !rec.CreatedAt.After(now) {
				cp := *rec
				snapshot = append(snapshot, &cp)
			}
		}
		s.mu.RUnlock()

		sort.Slice(snapshot, func(i, j int) bool {
			return snapshot[i].ExpiresAt.Before(snapshot[j].ExpiresAt)
		})

		for _, rec := range snapshot {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// AttachShortLink записывает короткую ссылку, если она ещё не задана.
func (s *MemoryStore) AttachShortLink(_ context.Context, id, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.objects[id]
	if !ok {
		return ErrNotFound
	}
	if rec.ShortLink != "" {
		return ErrShortLinkSet
	}
	rec.ShortLink = link
	return nil
}

// HasBlobKey проверяет наличие записи с указанным blob_key.
func (s *MemoryStore) HasBlobKey(_ context.Context, blobKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobKeys[blobKey]
	return ok, nil
}

// Count возвращает количество записей.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *MemoryStore) Close() error { return nil }

// Проверка соответствия интерфейсу на этапе компиляции.
var _ MetadataStore = (*MemoryStore)(nil)
