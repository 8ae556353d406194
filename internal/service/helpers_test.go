package service

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// baseTime - фиксированная точка отсчёта для ручных часов.
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errInjected = errors.New("внедрённый сбой")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBlobStore - in-memory BlobStore с внедрением сбоев и подсчётом удалений.
type fakeBlobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	modTimes map[string]time.Time
	now      func() time.Time

	putErr     error
	deleteErr  error
	locatorErr error

	// deletedCount - число вызовов Delete с результатом Deleted
	deletedCount int
}

func newFakeBlobStore(clk clock.Clock) *fakeBlobStore {
	return &fakeBlobStore{
		blobs:    make(map[string][]byte),
		modTimes: make(map[string]time.Time),
		now:      clk.Now,
	}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	f.mu.Lock()
	putErr := f.putErr
	f.mu.Unlock()
	if putErr != nil {
		return "", putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	f.modTimes[key] = f.now()
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) (model.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return model.AlreadyAbsent, f.deleteErr
	}
	if _, ok := f.blobs[key]; !ok {
		return model.AlreadyAbsent, nil
	}
	delete(f.blobs, key)
	delete(f.modTimes, key)
	f.deletedCount++
	return model.Deleted, nil
}

func (f *fakeBlobStore) LocatorFor(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locatorErr != nil {
		return "", f.locatorErr
	}
	if _, ok := f.blobs[key]; !ok {
		return "", storage.ErrNotFound
	}
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) List(context.Context) iter.Seq2[storage.BlobInfo, error] {
	return func(yield func(storage.BlobInfo, error) bool) {
		f.mu.Lock()
		infos := make([]storage.BlobInfo, 0, len(f.blobs))
		for k, v := range f.blobs {
			infos = append(infos, storage.BlobInfo{Key: k, Size: int64(len(v)), ModTime: f.modTimes[k]})
		}
		f.mu.Unlock()
		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

func (f *fakeBlobStore) setDeleteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}

func (f *fakeBlobStore) deletions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletedCount
}

// faultyMetaStore - MetadataStore с внедрением сбоев отдельных операций.
type faultyMetaStore struct {
	repository.MetadataStore
	createErr error
	getErr    error
	deleteErr error
	findErr   error
}

func (s *faultyMetaStore) Create(ctx context.Context, rec *model.ObjectRecord) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.MetadataStore.Create(ctx, rec)
}

func (s *faultyMetaStore) Get(ctx context.Context, id string) (*model.ObjectRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MetadataStore.Get(ctx, id)
}

func (s *faultyMetaStore) Delete(ctx context.Context, id string) (model.DeleteResult, error) {
	if s.deleteErr != nil {
		return model.AlreadyAbsent, s.deleteErr
	}
	return s.MetadataStore.Delete(ctx, id)
}

func (s *faultyMetaStore) FindExpired(ctx context.Context, now time.Time) iter.Seq2[*model.ObjectRecord, error] {
	if s.findErr != nil {
		return func(yield func(*model.ObjectRecord, error) bool) {
			yield(nil, s.findErr)
		}
	}
	return s.MetadataStore.FindExpired(ctx, now)
}

// testEnv - связанный набор сервисов поверх in-memory хранилищ.
type testEnv struct {
	clock   *clock.Manual
	meta    *repository.MemoryStore
	blobs   *fakeBlobStore
	cache   *CacheService
	deleter *Deleter
	lazy    *LazyReaper
	sweep   *SweepService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewManual(baseTime)
	meta := repository.NewMemoryStore()
	blobs := newFakeBlobStore(clk)
	cache := NewCacheService(100, time.Hour)
	deleter := NewDeleter(meta, blobs, cache, nil, clk, testLogger())

	return &testEnv{
		clock:   clk,
		meta:    meta,
		blobs:   blobs,
		cache:   cache,
		deleter: deleter,
		lazy:    NewLazyReaper(meta, blobs, cache, deleter, clk, testLogger()),
		sweep:   NewSweepService(meta, deleter, clk, time.Minute, 0, testLogger()),
	}
}

// seed создаёт blob и запись с заданным TTL относительно текущих часов.
func (e *testEnv) seed(t *testing.T, id string, ttl time.Duration) *model.ObjectRecord {
	t.Helper()
	ctx := context.Background()
	key := id + ".png"
	if _, err := e.blobs.Put(ctx, key, strings.NewReader("data"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now := e.clock.Now()
	rec := &model.ObjectRecord{
		ID:          id,
		BlobKey:     key,
		ContentType: "image/png",
		Size:        4,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if _, err := e.meta.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

// assertAbsent проверяет, что нет ни записи, ни blob'а.
func (e *testEnv) assertAbsent(t *testing.T, rec *model.ObjectRecord) {
	t.Helper()
	if _, err := e.meta.Get(context.Background(), rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись %s должна быть удалена, Get: %v", rec.ID, err)
	}
	if e.blobs.has(rec.BlobKey) {
		t.Errorf("blob %s должен быть удалён", rec.BlobKey)
	}
}
