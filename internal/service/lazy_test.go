package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
)

func TestResolve_NotFound(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.lazy.Resolve(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("ожидался not_found, получено %s", res.Outcome)
	}
}

func TestResolve_Live(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, "live", time.Minute)

	res, err := env.lazy.Resolve(context.Background(), "live")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Outcome != OutcomeLive {
		t.Fatalf("ожидался live, получено %s", res.Outcome)
	}
	if res.Locator != "https://blobs.test/"+rec.BlobKey {
		t.Errorf("локатор: получено %s", res.Locator)
	}
	if !env.blobs.has(rec.BlobKey) {
		t.Error("чтение живого объекта не должно удалять blob")
	}
	if env.cache.Len() != 1 {
		t.Errorf("живая запись должна попасть в кэш, в кэше %d", env.cache.Len())
	}
}

// TestResolve_ReadAfterExpiry - ttl=1s: сразу live, через 2s gone, затем not_found.
func TestResolve_ReadAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "short", time.Second)

	res, err := env.lazy.Resolve(ctx, "short")
	if err != nil || res.Outcome != OutcomeLive {
		t.Fatalf("сразу после создания: outcome=%v err=%v", res, err)
	}

	env.clock.Advance(2 * time.Second)

	res, err = env.lazy.Resolve(ctx, "short")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("после истечения: outcome=%v err=%v", res, err)
	}
	env.assertAbsent(t, rec)

	res, err = env.lazy.Resolve(ctx, "short")
	if err != nil || res.Outcome != OutcomeNotFound {
		t.Fatalf("повторное чтение: outcome=%v err=%v", res, err)
	}
}

// TestResolve_ExpiryBoundary - в момент ExpiresAt объект уже истёк.
func TestResolve_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, "edge", time.Minute)

	env.clock.Set(rec.ExpiresAt.Add(-time.Nanosecond))
	res, err := env.lazy.Resolve(context.Background(), "edge")
	if err != nil || res.Outcome != OutcomeLive {
		t.Fatalf("за 1нс до истечения: outcome=%v err=%v", res, err)
	}

	env.clock.Set(rec.ExpiresAt)
	res, err = env.lazy.Resolve(context.Background(), "edge")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("в момент истечения: outcome=%v err=%v", res, err)
	}
}

// TestResolve_BlobDeleteFailureKeepsMetadata - сбой удаления blob'а
// даёт ошибку и не трогает запись; следующая попытка завершает удаление.
func TestResolve_BlobDeleteFailureKeepsMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "stuck", time.Second)
	env.clock.Advance(time.Minute)

	env.blobs.setDeleteErr(errInjected)
	if _, err := env.lazy.Resolve(ctx, "stuck"); !errors.Is(err, errInjected) {
		t.Fatalf("ожидалась внедрённая ошибка, получено %v", err)
	}
	if _, err := env.meta.Get(ctx, "stuck"); err != nil {
		t.Fatalf("запись должна сохраниться после сбоя удаления blob: %v", err)
	}
	if !env.blobs.has(rec.BlobKey) {
		t.Fatal("blob не должен исчезнуть при сбое удаления")
	}

	env.blobs.setDeleteErr(nil)
	res, err := env.lazy.Resolve(ctx, "stuck")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("повторная попытка: outcome=%v err=%v", res, err)
	}
	env.assertAbsent(t, rec)
}

// TestResolve_SelfHealing - «blob удалён, запись есть» завершается при чтении.
func TestResolve_SelfHealing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "half", time.Second)
	env.clock.Advance(time.Minute)

	// Состояние после сбоя между шагами удаления
	if _, err := env.blobs.Delete(ctx, rec.BlobKey); err != nil {
		t.Fatal(err)
	}

	res, err := env.lazy.Resolve(ctx, "half")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("outcome=%v err=%v", res, err)
	}
	env.assertAbsent(t, rec)
}

// TestResolve_BrokenRecord - живая запись без blob'а: ошибка, ничего не удаляется.
func TestResolve_BrokenRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "broken", time.Hour)
	if _, err := env.blobs.Delete(ctx, rec.BlobKey); err != nil {
		t.Fatal(err)
	}

	if _, err := env.lazy.Resolve(ctx, "broken"); !errors.Is(err, ErrBrokenRecord) {
		t.Fatalf("ожидалась ErrBrokenRecord, получено %v", err)
	}
	if _, err := env.meta.Get(ctx, "broken"); err != nil {
		t.Errorf("запись не должна удаляться: %v", err)
	}
}

func TestResolve_StoreFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "x", time.Hour)

	faulty := &faultyMetaStore{MetadataStore: env.meta, getErr: errInjected}
	lazy := NewLazyReaper(faulty, env.blobs, nil, env.deleter, env.clock, testLogger())
	if _, err := lazy.Resolve(context.Background(), "x"); !errors.Is(err, errInjected) {
		t.Errorf("сбой Get: ожидалась внедрённая ошибка, получено %v", err)
	}

	env.blobs.locatorErr = errInjected
	if _, err := env.lazy.Resolve(context.Background(), "x"); !errors.Is(err, errInjected) {
		t.Errorf("сбой LocatorFor: ожидалась внедрённая ошибка, получено %v", err)
	}
}

// TestResolve_CachedRecordExpires - запись из кэша проходит ту же проверку истечения.
func TestResolve_CachedRecordExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "cached", time.Second)

	if res, err := env.lazy.Resolve(ctx, "cached"); err != nil || res.Outcome != OutcomeLive {
		t.Fatalf("первое чтение: outcome=%v err=%v", res, err)
	}

	// Удаление «в обход» этого экземпляра: кэш не инвалидирован
	if _, err := env.blobs.Delete(ctx, rec.BlobKey); err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.Delete(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Minute)

	res, err := env.lazy.Resolve(ctx, "cached")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("чтение из кэша после истечения: outcome=%v err=%v", res, err)
	}
	if env.cache.Len() != 0 {
		t.Error("запись должна быть удалена из кэша")
	}
	if res, _ := env.lazy.Resolve(ctx, "cached"); res.Outcome != OutcomeNotFound {
		t.Errorf("ожидался not_found, получено %s", res.Outcome)
	}
}

// TestResolve_ConcurrentRace - N конкурентных чтений истёкшего объекта и
// параллельный проход sweep: все чтения завершаются gone или not_found,
// blob фактически удаляется ровно один раз.
func TestResolve_ConcurrentRace(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed(t, "race", time.Second)
	env.clock.Advance(time.Minute)

	const readers = 32
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	outcomes := make(chan Outcome, readers)

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.lazy.Resolve(context.Background(), "race")
			if err != nil {
				errs <- err
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.sweep.RunOnce(context.Background())
	}()
	wg.Wait()
	close(errs)
	close(outcomes)

	for err := range errs {
		t.Errorf("чтение завершилось ошибкой: %v", err)
	}
	for o := range outcomes {
		if o != OutcomeGone && o != OutcomeNotFound {
			t.Errorf("недопустимый результат %s", o)
		}
	}
	if n := env.blobs.deletions(); n != 1 {
		t.Errorf("ожидалось ровно одно фактическое удаление blob, получено %d", n)
	}
	env.assertAbsent(t, rec)
	if _, err := env.meta.Get(context.Background(), "race"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись должна быть удалена: %v", err)
	}
}

// hookedBlobStore вызывает before/after вокруг LocatorFor, чтобы
// воспроизвести удаление, выполняемое параллельно с чтением.
type hookedBlobStore struct {
	*fakeBlobStore
	before func()
	after  func()
}

func (h *hookedBlobStore) LocatorFor(ctx context.Context, key string) (string, error) {
	if h.before != nil {
		h.before()
		h.before = nil
	}
	loc, err := h.fakeBlobStore.LocatorFor(ctx, key)
	if h.after != nil {
		h.after()
		h.after = nil
	}
	return loc, err
}

// TestResolve_SweepDuringLocator - sweep удаляет объект на границе
// истечения, пока чтение запрашивает локатор: результат not_found, не ошибка.
func TestResolve_SweepDuringLocator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "edge", time.Minute)
	env.clock.Set(rec.ExpiresAt.Add(-time.Nanosecond))

	var swept *SweepResult
	blobs := &hookedBlobStore{fakeBlobStore: env.blobs, before: func() {
		env.clock.Advance(time.Nanosecond)
		swept = env.sweep.RunOnce(ctx)
	}}
	lazy := NewLazyReaper(env.meta, blobs, env.cache, env.deleter, env.clock, testLogger())

	res, err := lazy.Resolve(ctx, "edge")
	if err != nil {
		t.Fatalf("чтение на границе истечения не должно давать ошибку: %v", err)
	}
	if swept == nil || swept.Deleted != 1 {
		t.Fatalf("sweep должен был удалить объект: %+v", swept)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("ожидался not_found, получено %s", res.Outcome)
	}
	env.assertAbsent(t, rec)
}

// TestResolve_BlobDeletedDuringLocator - параллельное удаление успело
// убрать только blob: чтение завершает удаление и отвечает gone.
func TestResolve_BlobDeletedDuringLocator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "half", time.Minute)
	env.clock.Set(rec.ExpiresAt.Add(-time.Nanosecond))

	blobs := &hookedBlobStore{fakeBlobStore: env.blobs, before: func() {
		env.clock.Advance(time.Nanosecond)
		if _, err := env.blobs.Delete(ctx, rec.BlobKey); err != nil {
			t.Errorf("Delete: %v", err)
		}
	}}
	lazy := NewLazyReaper(env.meta, blobs, env.cache, env.deleter, env.clock, testLogger())

	res, err := lazy.Resolve(ctx, "half")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("ожидался gone, получено outcome=%v err=%v", res, err)
	}
	env.assertAbsent(t, rec)
}

// TestResolve_SweepAfterLocator - объект удалён sweep'ом после получения
// локатора: запись не возвращается в кэш, следующее чтение - not_found.
func TestResolve_SweepAfterLocator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed(t, "late", time.Minute)
	env.clock.Set(rec.ExpiresAt.Add(-time.Nanosecond))

	blobs := &hookedBlobStore{fakeBlobStore: env.blobs, after: func() {
		env.clock.Advance(time.Nanosecond)
		env.sweep.RunOnce(ctx)
	}}
	lazy := NewLazyReaper(env.meta, blobs, env.cache, env.deleter, env.clock, testLogger())

	res, err := lazy.Resolve(ctx, "late")
	if err != nil || res.Outcome != OutcomeLive {
		t.Fatalf("первое чтение: outcome=%v err=%v", res, err)
	}
	if env.cache.Len() != 0 {
		t.Errorf("удалённая запись не должна попадать в кэш, в кэше %d", env.cache.Len())
	}

	res, err = lazy.Resolve(ctx, "late")
	if err != nil || res.Outcome != OutcomeNotFound {
		t.Fatalf("повторное чтение: ожидался not_found, получено outcome=%v err=%v", res, err)
	}
	env.assertAbsent(t, rec)
}
