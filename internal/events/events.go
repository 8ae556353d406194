// Пакет events - публикация событий жизненного цикла объектов
// (создан, удалён) в NATS. Без SD_NATS_URL используется Noop.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// Тип события.
const (
	TypeCreated = "created"
	TypeDeleted = "deleted"
)

// Event - событие жизненного цикла объекта.
type Event struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	BlobKey   string    `json:"blob_key"`
	ExpiresAt time.Time `json:"expires_at"`
	// Reaper - кто удалил объект: lazy или sweep (только для deleted)
	Reaper     string    `json:"reaper,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent создаёт событие по записи объекта.
func NewEvent(typ string, rec *model.ObjectRecord, at time.Time) Event {
	return Event{
		Type:       typ,
		ID:         rec.ID,
		BlobKey:    rec.BlobKey,
		ExpiresAt:  rec.ExpiresAt,
		OccurredAt: at.UTC(),
	}
}

// Publisher - получатель событий.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Noop отбрасывает события.
type Noop struct{}

// Publish ничего не делает.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close ничего не делает.
func (Noop) Close() {}

var errEmptySubject = errors.New("пустой subject NATS")

// conn - часть *nats.Conn, используемая публикатором.
type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher публикует события в {subject}.{type}.
type NATSPublisher struct {
	nc      conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher подключается к NATS с бесконечным переподключением.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		return nil, errEmptySubject
	}
	logger = logger.With(slog.String("component", "events"))

	opts := []nats.Option{
		nats.Name("selfdestruct-module"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Соединение с NATS потеряно", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Соединение с NATS восстановлено", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("Соединение с NATS закрыто")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS %s: %w", url, err)
	}
	return newNATSPublisher(nc, subject, logger), nil
}

func newNATSPublisher(nc conn, subject string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

// Publish сериализует событие в JSON и отправляет его.
// Доставка at-most-once: без JetStream события при разрыве теряются.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}
	subject := p.subject + "." + ev.Type
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("публикация в %s: %w", subject, err)
	}
	p.logger.Debug("Событие опубликовано",
		slog.String("subject", subject),
		slog.String("id", ev.ID),
	)
	return nil
}

// Close закрывает соединение с NATS.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// Проверка соответствия интерфейсу на этапе компиляции.
var (
	_ Publisher = Noop{}
	_ Publisher = (*NATSPublisher)(nil)
)
