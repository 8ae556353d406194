// Пакет model - доменные модели Self-Destruct Module.
// ObjectRecord - метаданные самоуничтожающегося объекта (изображения),
// общие для всех драйверов хранилища метаданных.
package model

import (
	"time"
)

// ObjectRecord - запись о хранимом объекте.
// Все поля, кроме ShortLink, неизменяемы после создания.
type ObjectRecord struct {
	// ID - уникальный идентификатор объекта (UUID v4)
	ID string `json:"id"`

	// OriginalName - имя файла при загрузке (только для информации)
	OriginalName string `json:"original_name"`

	// BlobKey - ключ бинарных данных в Blob Store.
	// Уникален и никогда не переиспользуется.
	BlobKey string `json:"blob_key"`

	// ContentType - MIME-тип объекта
	ContentType string `json:"content_type"`

	// Size - размер объекта в байтах
	Size int64 `json:"size"`

	// CreatedAt - момент создания записи (UTC)
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt - момент истечения (CreatedAt + TTL).
	// Фиксируется при создании и больше не меняется.
	ExpiresAt time.Time `json:"expires_at"`

	// ShortLink - короткая ссылка, записывается не более одного раза.
	// Пустая строка, если сокращение не выполнялось или не удалось.
	ShortLink string `json:"short_link,omitempty"`
}

// IsExpired проверяет, истёк ли объект на момент now.
// Равенство считается истечением: объект недоступен уже в момент ExpiresAt.
func (o *ObjectRecord) IsExpired(now time.Time) bool {
	return IsExpired(o.ExpiresAt, now)
}

// TTL возвращает заданное при создании время жизни.
func (o *ObjectRecord) TTL() time.Duration {
	return o.ExpiresAt.Sub(o.CreatedAt)
}

// IsExpired - чистый предикат истечения: now >= expiresAt.
// Используется ленивым и фоновым удалением, а также всеми драйверами
// при выборке истёкших записей (expires_at <= now).
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// Liveness - производное состояние объекта, в хранилище не записывается.
type Liveness int

const (
	// LivenessDeleted - записи нет
	LivenessDeleted Liveness = iota
	// LivenessLive - запись есть, срок не истёк
	LivenessLive
	// LivenessExpired - запись есть, срок истёк, удаление ещё не выполнено
	LivenessExpired
)

// String возвращает строковое представление состояния.
func (l Liveness) String() string {
	switch l {
	case LivenessLive:
		return "live"
	case LivenessExpired:
		return "expired"
	default:
		return "deleted"
	}
}

// LivenessOf вычисляет состояние записи на момент now.
// rec == nil означает, что запись не найдена.
func LivenessOf(rec *ObjectRecord, now time.Time) Liveness {
	if rec == nil {
		return LivenessDeleted
	}
	if rec.IsExpired(now) {
		return LivenessExpired
	}
	return LivenessLive
}

// DeleteResult - результат идемпотентного удаления.
// Оба значения означают успех.
type DeleteResult int

const (
	// Deleted - объект существовал и был удалён этим вызовом
	Deleted DeleteResult = iota
	// AlreadyAbsent - объекта уже не было
	AlreadyAbsent
)

// String возвращает строковое представление результата (используется в метриках).
func (r DeleteResult) String() string {
	if r == Deleted {
		return "deleted"
	}
	return "already_absent"
}
