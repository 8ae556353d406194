package service

import (
	"testing"
	"time"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

func TestCacheService_SetGetDelete(t *testing.T) {
	c := NewCacheService(10, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("пустой кэш не должен возвращать запись")
	}

	rec := &model.ObjectRecord{ID: "a", BlobKey: "a.png"}
	c.Set("a", rec)

	got, ok := c.Get("a")
	if !ok || got.BlobKey != "a.png" {
		t.Fatalf("Get: ok=%v rec=%+v", ok, got)
	}

	// Изменение возвращённой копии не влияет на кэш
	got.BlobKey = "changed.png"
	again, _ := c.Get("a")
	if again.BlobKey != "a.png" {
		t.Errorf("кэш должен хранить копию, получено %s", again.BlobKey)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("запись должна быть удалена")
	}
}

func TestCacheService_Eviction(t *testing.T) {
	c := NewCacheService(2, time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		c.Set(id, &model.ObjectRecord{ID: id})
	}
	if c.Len() != 2 {
		t.Errorf("размер кэша: ожидалось 2, получено %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
}

func TestCacheService_TTL(t *testing.T) {
	c := NewCacheService(10, 50*time.Millisecond)
	c.Set("a", &model.ObjectRecord{ID: "a"})

	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("запись должна истечь по TTL кэша")
	}
}
