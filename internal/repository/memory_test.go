package repository

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) MetadataStore {
		return NewMemoryStore()
	})
}

// TestMemoryStore_ReturnsCopies проверяет, что изменение возвращённой
// записи не влияет на хранимую.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := newRecord("copy", baseTime, time.Minute)
	if _, err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.ExpiresAt = baseTime.Add(time.Hour)

	got, err := store.Get(ctx, "copy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.ExpiresAt = baseTime.Add(24 * time.Hour)

	again, _ := store.Get(ctx, "copy")
	if !again.ExpiresAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("expires_at изменился снаружи: %v", again.ExpiresAt)
	}
	if store.Count() != 1 {
		t.Errorf("Count: ожидалось 1, получено %d", store.Count())
	}
}
