// Пакет clock - источник текущего времени.
// Сервисы читают время только через Clock, что позволяет
// подменять его в тестах (ManualClock).
package clock

import (
	"sync"
	"time"
)

// Clock - источник текущего времени.
type Clock interface {
	Now() time.Time
}

// System - системные часы (UTC).
type System struct{}

// Now возвращает текущее время в UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual - управляемые часы для тестов. Потокобезопасны.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual создаёт часы, показывающие t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now возвращает установленное время.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set устанавливает время.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance сдвигает время вперёд на d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
