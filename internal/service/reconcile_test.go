package service

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestReconcile(env *testEnv, grace time.Duration) *ReconcileService {
	return NewReconcileService(env.meta, env.blobs, env.clock, time.Hour, grace, testLogger())
}

func TestReconcileRunOnce_DeletesOldOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owned := env.seed(t, "owned", time.Hour)
	if _, err := env.blobs.Put(ctx, "orphan.png", strings.NewReader("x"), "image/png"); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(2 * time.Hour)
	rs := newTestReconcile(env, time.Hour)

	result, skipped := rs.RunOnce(ctx)
	if skipped {
		t.Fatal("сверка не должна пропускаться")
	}
	if result.BlobsChecked != 2 || result.Orphans != 1 || result.Deleted != 1 || result.Errors != 0 {
		t.Errorf("неожиданный результат: %+v", result)
	}
	if env.blobs.has("orphan.png") {
		t.Error("осиротевший blob должен быть удалён")
	}
	if !env.blobs.has(owned.BlobKey) {
		t.Error("blob с записью не должен удаляться")
	}
}

// TestReconcileRunOnce_GracePeriod - молодой blob без записи может
// принадлежать выполняющейся загрузке и не удаляется.
func TestReconcileRunOnce_GracePeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.blobs.Put(ctx, "fresh.png", strings.NewReader("x"), "image/png"); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(30 * time.Minute)

	result, _ := newTestReconcile(env, time.Hour).RunOnce(ctx)
	if result.Skipped != 1 || result.Deleted != 0 {
		t.Errorf("молодой blob должен быть пропущен: %+v", result)
	}
	if !env.blobs.has("fresh.png") {
		t.Error("молодой blob не должен удаляться")
	}
}

func TestReconcileRunOnce_DeleteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.blobs.Put(ctx, "orphan.png", strings.NewReader("x"), "image/png"); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(2 * time.Hour)
	env.blobs.setDeleteErr(errInjected)

	result, _ := newTestReconcile(env, time.Hour).RunOnce(ctx)
	if result.Errors != 1 || result.Deleted != 0 || result.Orphans != 1 {
		t.Errorf("неожиданный результат: %+v", result)
	}
}

func TestReconcileService_IsInProgress(t *testing.T) {
	env := newTestEnv(t)
	rs := newTestReconcile(env, time.Hour)

	if rs.IsInProgress() {
		t.Error("до запуска сверка не должна выполняться")
	}

	rs.mu.Lock()
	rs.inProcess = true
	rs.mu.Unlock()

	result, skipped := rs.RunOnce(context.Background())
	if !skipped || result != nil {
		t.Errorf("параллельный запуск должен пропускаться: skipped=%v result=%+v", skipped, result)
	}
}

func TestReconcileService_StartStop(t *testing.T) {
	env := newTestEnv(t)
	rs := NewReconcileService(env.meta, env.blobs, env.clock, 10*time.Millisecond, time.Hour, testLogger())

	rs.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	rs.Stop()

	if rs.IsInProgress() {
		t.Error("после Stop сверка не должна выполняться")
	}
}
