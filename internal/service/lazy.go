// lazy.go - ленивое удаление при чтении.
// Каждое чтение сверяется с часами: живой объект отдаётся,
// истёкший удаляется до ответа.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// ErrBrokenRecord - живая запись ссылается на отсутствующий blob.
var ErrBrokenRecord = errors.New("запись ссылается на отсутствующий blob")

// Outcome - результат разрешения идентификатора.
type Outcome int

const (
	// OutcomeNotFound - записи нет (404)
	OutcomeNotFound Outcome = iota
	// OutcomeLive - объект жив, есть локатор (302)
	OutcomeLive
	// OutcomeGone - объект истёк и удалён (410)
	OutcomeGone
)

// String возвращает строковое представление результата.
func (o Outcome) String() string {
	switch o {
	case OutcomeLive:
		return "live"
	case OutcomeGone:
		return "gone"
	default:
		return "not_found"
	}
}

// lazyOutcomesTotal - результаты чтений.
var lazyOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sd_lazy_outcomes_total",
	Help: "Результаты чтения объектов (not_found, live, gone, error).",
}, []string{"outcome"})

// Resolution - результат чтения объекта.
type Resolution struct {
	Outcome Outcome
	// Record - запись (nil для OutcomeNotFound)
	Record *model.ObjectRecord
	// Locator - адрес blob'а (только для OutcomeLive)
	Locator string
}

// LazyReaper разрешает идентификатор объекта с учётом истечения.
type LazyReaper struct {
	meta    repository.MetadataStore
	blobs   storage.BlobStore
	cache   *CacheService
	deleter *Deleter
	clock   clock.Clock
	logger  *slog.Logger
}

// NewLazyReaper создаёт LazyReaper. cache может быть nil.
func NewLazyReaper(
	meta repository.MetadataStore,
	blobs storage.BlobStore,
	cache *CacheService,
	deleter *Deleter,
	clk clock.Clock,
	logger *slog.Logger,
) *LazyReaper {
	return &LazyReaper{
		meta:    meta,
		blobs:   blobs,
		cache:   cache,
		deleter: deleter,
		clock:   clk,
		logger:  logger.With(slog.String("component", "lazy_reaper")),
	}
}

// Resolve возвращает состояние объекта id на текущий момент.
// Ошибка означает сбой инфраструктуры (500); в этом случае
// запись метаданных не удаляется.
func (r *LazyReaper) Resolve(ctx context.Context, id string) (*Resolution, error) {
	res, err := r.resolve(ctx, id)
	if err != nil {
		lazyOutcomesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	lazyOutcomesTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

func (r *LazyReaper) resolve(ctx context.Context, id string) (*Resolution, error) {
	rec, cached, err := r.lookup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &Resolution{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.IsExpired(r.clock.Now()) {
		return r.reap(ctx, rec)
	}

	loc, err := r.blobs.LocatorFor(ctx, rec.BlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return r.recheck(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("получение локатора %s: %w", rec.BlobKey, err)
	}

	// Пока шёл запрос локатора, объект мог истечь и быть удалён sweep'ом:
	// такую запись в кэш не кладём.
	if !cached && r.cache != nil && !rec.IsExpired(r.clock.Now()) {
		r.cache.Set(rec.ID, rec)
	}
	return &Resolution{Outcome: OutcomeLive, Record: rec, Locator: loc}, nil
}

// recheck разбирает живую запись, чей blob не найден. Обычно это
// параллельное удаление на границе истечения: запись перечитывается
// из хранилища мимо кэша. Ошибка возвращается, только если запись
// по-прежнему есть и жива.
func (r *LazyReaper) recheck(ctx context.Context, stale *model.ObjectRecord) (*Resolution, error) {
	if r.cache != nil {
		r.cache.Delete(stale.ID)
	}

	rec, err := r.meta.Get(ctx, stale.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Resolution{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("повторное получение записи %s: %w", stale.ID, err)
	}

	if rec.IsExpired(r.clock.Now()) {
		return r.reap(ctx, rec)
	}

	r.logger.Error("Живая запись без blob",
		slog.String("id", rec.ID),
		slog.String("blob_key", rec.BlobKey),
	)
	return nil, fmt.Errorf("%w: %s", ErrBrokenRecord, rec.ID)
}

// reap удаляет истёкший объект и возвращает OutcomeGone.
func (r *LazyReaper) reap(ctx context.Context, rec *model.ObjectRecord) (*Resolution, error) {
	out, err := r.deleter.Delete(ctx, rec, ReaperLazy)
	if err != nil {
		r.logger.Error("Ошибка удаления истёкшего объекта",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	r.logger.Info("Истёкший объект удалён при чтении",
		slog.String("id", rec.ID),
		slog.Time("expires_at", rec.ExpiresAt),
		slog.String("metadata", out.Metadata.String()),
	)
	return &Resolution{Outcome: OutcomeGone, Record: rec}, nil
}

// lookup читает запись из кэша, при промахе из хранилища.
func (r *LazyReaper) lookup(ctx context.Context, id string) (*model.ObjectRecord, bool, error) {
	if r.cache != nil {
		if rec, ok := r.cache.Get(id); ok {
			return rec, true, nil
		}
	}
	rec, err := r.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("получение записи %s: %w", id, err)
	}
	return rec, false, nil
}
