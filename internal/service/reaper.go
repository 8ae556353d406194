// reaper.go - последовательность удаления объекта, общая для ленивого
// и фонового удаления: сначала blob, затем запись метаданных.
//
// Сбой между шагами оставляет «blob удалён, запись есть». Такое
// состояние самовосстанавливается: запись уже истекла, и следующая
// проверка снова войдёт в ветку удаления.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/clock"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/events"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/repository"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// Инициатор удаления.
const (
	ReaperLazy  = "lazy"
	ReaperSweep = "sweep"
)

// Prometheus-метрики удаления.
var (
	blobDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_blob_deletions_total",
		Help: "Удаления blob'ов по результату (deleted, already_absent). Для S3 при гонке оценочно.",
	}, []string{"outcome"})

	metadataDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_metadata_deletions_total",
		Help: "Удаления записей метаданных по инициатору и результату (deleted - ровно одно на объект).",
	}, []string{"reaper", "outcome"})
)

// DeletionOutcome - что фактически удалил каждый шаг.
type DeletionOutcome struct {
	Blob     model.DeleteResult
	Metadata model.DeleteResult
}

// Deleter выполняет последовательность удаления.
type Deleter struct {
	meta   repository.MetadataStore
	blobs  storage.BlobStore
	cache  *CacheService
	events events.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

// NewDeleter создаёт Deleter. cache и pub могут быть nil.
func NewDeleter(
	meta repository.MetadataStore,
	blobs storage.BlobStore,
	cache *CacheService,
	pub events.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
) *Deleter {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Deleter{
		meta:   meta,
		blobs:  blobs,
		cache:  cache,
		events: pub,
		clock:  clk,
		logger: logger.With(slog.String("component", "deleter")),
	}
}

// Delete удаляет blob, затем запись. Ошибка удаления blob'а прерывает
// последовательность: запись остаётся, и удаление будет повторено.
func (d *Deleter) Delete(ctx context.Context, rec *model.ObjectRecord, reaper string) (*DeletionOutcome, error) {
	blobRes, err := d.blobs.Delete(ctx, rec.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("удаление blob %s: %w", rec.BlobKey, err)
	}
	blobDeletionsTotal.WithLabelValues(blobRes.String()).Inc()

	metaRes, err := d.meta.Delete(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("удаление записи %s: %w", rec.ID, err)
	}
	metadataDeletionsTotal.WithLabelValues(reaper, metaRes.String()).Inc()

	if d.cache != nil {
		d.cache.Delete(rec.ID)
	}

	// Событие публикует только тот, кто фактически удалил запись
	if metaRes == model.Deleted {
		ev := events.NewEvent(events.TypeDeleted, rec, d.clock.Now())
		ev.Reaper = reaper
		if err := d.events.Publish(ctx, ev); err != nil {
			d.logger.Warn("Ошибка публикации события удаления",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.Debug("Объект удалён",
		slog.String("id", rec.ID),
		slog.String("reaper", reaper),
		slog.String("blob", blobRes.String()),
		slog.String("metadata", metaRes.String()),
	)

	return &DeletionOutcome{Blob: blobRes, Metadata: metaRes}, nil
}
