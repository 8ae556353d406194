package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// baseTime - фиксированная точка отсчёта (целые секунды: точность
// timestamptz в PostgreSQL - микросекунды).
var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newRecord создаёт тестовую запись с заданным TTL относительно baseTime.
func newRecord(id string, createdAt time.Time, ttl time.Duration) *model.ObjectRecord {
	return &model.ObjectRecord{
		ID:           id,
		OriginalName: id + ".png",
		BlobKey:      "blob-" + id + ".png",
		ContentType:  "image/png",
		Size:         128,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(ttl),
	}
}

// runStoreContract прогоняет общий набор проверок MetadataStore.
// newStore должен возвращать пустое хранилище.
func runStoreContract(t *testing.T, newStore func(t *testing.T) MetadataStore) {
	t.Helper()

	t.Run("CreateGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("", baseTime, time.Minute)
		id, err := store.Create(ctx, rec)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id == "" {
			t.Fatal("Create: ожидался сгенерированный id")
		}

		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.BlobKey != rec.BlobKey || got.ContentType != "image/png" || got.Size != 128 {
			t.Errorf("Get: неожиданная запись %+v", got)
		}
		if !got.CreatedAt.Equal(baseTime) || !got.ExpiresAt.Equal(baseTime.Add(time.Minute)) {
			t.Errorf("Get: время created=%v expires=%v", got.CreatedAt, got.ExpiresAt)
		}
		if got.ShortLink != "" {
			t.Errorf("Get: ожидалась пустая короткая ссылка, получено %q", got.ShortLink)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено %v", err)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.Create(ctx, newRecord("dup", baseTime, time.Minute)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		_, err := store.Create(ctx, newRecord("dup", baseTime, time.Minute))
		if !errors.Is(err, ErrDuplicateID) {
			t.Errorf("повтор id: ожидалась ErrDuplicateID, получено %v", err)
		}

		other := newRecord("other", baseTime, time.Minute)
		other.BlobKey = "blob-dup.png"
		_, err = store.Create(ctx, other)
		if !errors.Is(err, ErrDuplicateID) {
			t.Errorf("повтор blob_key: ожидалась ErrDuplicateID, получено %v", err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("del", baseTime, time.Minute)
		if _, err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}

		res, err := store.Delete(ctx, "del")
		if err != nil || res != model.Deleted {
			t.Fatalf("первое удаление: res=%v err=%v", res, err)
		}
		res, err = store.Delete(ctx, "del")
		if err != nil || res != model.AlreadyAbsent {
			t.Fatalf("повторное удаление: res=%v err=%v", res, err)
		}

		if _, err := store.Get(ctx, "del"); !errors.Is(err, ErrNotFound) {
			t.Errorf("после удаления ожидалась ErrNotFound, получено %v", err)
		}
		has, err := store.HasBlobKey(ctx, rec.BlobKey)
		if err != nil || has {
			t.Errorf("HasBlobKey после удаления: has=%v err=%v", has, err)
		}
	})

	t.Run("FindExpiredBoundary", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := baseTime.Add(time.Hour)

		fixtures := []*model.ObjectRecord{
			newRecord("past", baseTime, 30*time.Minute),            // истёк
			newRecord("equal", baseTime, time.Hour),                // expires_at == now
			newRecord("future", baseTime, time.Hour+time.Second),   // ещё жив
			newRecord("late", now.Add(time.Second), -2*time.Second), // создан после now
		}
		for _, rec := range fixtures {
			if _, err := store.Create(ctx, rec); err != nil {
				t.Fatalf("Create %s: %v", rec.ID, err)
			}
		}

		found := map[string]bool{}
		for rec, err := range store.FindExpired(ctx, now) {
			if err != nil {
				t.Fatalf("FindExpired: %v", err)
			}
			found[rec.ID] = true
		}

		if !found["past"] || !found["equal"] {
			t.Errorf("ожидались past и equal, получено %v", found)
		}
		if found["future"] {
			t.Error("живая запись не должна попадать в выборку")
		}
		if found["late"] {
			t.Error("запись, созданная после now, не должна попадать в выборку")
		}
		if len(found) != 2 {
			t.Errorf("ожидалось 2 записи, получено %d", len(found))
		}
	})

	t.Run("FindExpiredDeleteWhileIterating", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := range 5 {
			if _, err := store.Create(ctx, newRecord(fmt.Sprintf("it-%d", i), baseTime, time.Second)); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		count := 0
		for rec, err := range store.FindExpired(ctx, baseTime.Add(time.Minute)) {
			if err != nil {
				t.Fatalf("FindExpired: %v", err)
			}
			if _, err := store.Delete(ctx, rec.ID); err != nil {
				t.Fatalf("Delete во время итерации: %v", err)
			}
			count++
		}
		if count != 5 {
			t.Errorf("ожидалось 5 записей, получено %d", count)
		}

		for _, err := range store.FindExpired(ctx, baseTime.Add(time.Minute)) {
			if err != nil {
				t.Fatalf("FindExpired: %v", err)
			}
			t.Fatal("после удаления выборка должна быть пустой")
		}
	})

	t.Run("FindExpiredEarlyStop", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := range 3 {
			if _, err := store.Create(ctx, newRecord(fmt.Sprintf("stop-%d", i), baseTime, time.Second)); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		count := 0
		for _, err := range store.FindExpired(ctx, baseTime.Add(time.Minute)) {
			if err != nil {
				t.Fatalf("FindExpired: %v", err)
			}
			count++
			break
		}
		if count != 1 {
			t.Errorf("ожидалась 1 итерация, получено %d", count)
		}
	})

	t.Run("AttachShortLink", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.Create(ctx, newRecord("link", baseTime, time.Minute)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if err := store.AttachShortLink(ctx, "link", "https://bit.ly/abc"); err != nil {
			t.Fatalf("AttachShortLink: %v", err)
		}
		if err := store.AttachShortLink(ctx, "link", "https://bit.ly/other"); !errors.Is(err, ErrShortLinkSet) {
			t.Errorf("повторная запись: ожидалась ErrShortLinkSet, получено %v", err)
		}
		if err := store.AttachShortLink(ctx, "missing", "https://bit.ly/x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("нет записи: ожидалась ErrNotFound, получено %v", err)
		}

		got, err := store.Get(ctx, "link")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ShortLink != "https://bit.ly/abc" {
			t.Errorf("ShortLink: ожидалось https://bit.ly/abc, получено %q", got.ShortLink)
		}
	})

	t.Run("HasBlobKey", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		rec := newRecord("blob", baseTime, time.Minute)
		if _, err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		has, err := store.HasBlobKey(ctx, rec.BlobKey)
		if err != nil || !has {
			t.Errorf("HasBlobKey: has=%v err=%v", has, err)
		}
		has, err = store.HasBlobKey(ctx, "unknown.png")
		if err != nil || has {
			t.Errorf("HasBlobKey неизвестного ключа: has=%v err=%v", has, err)
		}
	})

	t.Run("ConcurrentDelete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.Create(ctx, newRecord("race", baseTime, time.Second)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		var deleted atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Delete(ctx, "race")
				if err != nil {
					t.Errorf("Delete: %v", err)
					return
				}
				if res == model.Deleted {
					deleted.Add(1)
				}
			}()
		}
		wg.Wait()

		if deleted.Load() != 1 {
			t.Errorf("ожидалось ровно одно фактическое удаление, получено %d", deleted.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		if err := store.Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
