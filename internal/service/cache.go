// Пакет service - бизнес-логика Self-Destruct Module.
// CacheService - LRU-кэш записей объектов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей.",
	})
)

// CacheService - LRU-кэш записей с автоматическим TTL.
// Каждый экземпляр имеет собственный in-memory кэш.
// Устаревшая запись безопасна: ExpiresAt неизменяем, удаление
// возможно только после истечения, и такое чтение уходит в
// идемпотентную ветку удаления.
type CacheService struct {
	cache *expirable.LRU[string, *model.ObjectRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.ObjectRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи из кэша.
func (c *CacheService) Get(id string) (*model.ObjectRecord, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		cp := *val
		return &cp, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет копию записи в кэш.
func (c *CacheService) Set(id string, record *model.ObjectRecord) {
	cp := *record
	c.cache.Add(id, &cp)
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(id string) {
	c.cache.Remove(id)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
