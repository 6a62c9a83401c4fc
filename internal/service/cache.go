// cache.go — LRU-кэш с TTL для дорогих поисков по документам CDR.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэшей.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdr_cache_hits_total",
		Help: "Количество попаданий в LRU-кэш",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdr_cache_misses_total",
		Help: "Количество промахов LRU-кэша",
	}, []string{"cache"})
)

// Cache — именованный LRU-кэш с автоматическим TTL.
// Кэш живёт в памяти процесса; экземпляры сервиса кэшируют независимо.
type Cache[V any] struct {
	name  string
	cache *expirable.LRU[string, V]
}

// NewCache создаёт кэш name на maxSize записей со временем жизни ttl.
func NewCache[V any](name string, maxSize int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name:  name,
		cache: expirable.NewLRU[string, V](maxSize, nil, ttl),
	}
}

// Get возвращает значение и признак попадания.
func (c *Cache[V]) Get(key string) (V, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.WithLabelValues(c.name).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(c.name).Inc()
	return val, false
}

// Set добавляет или обновляет запись.
func (c *Cache[V]) Set(key string, val V) {
	c.cache.Add(key, val)
}

// Delete удаляет запись.
func (c *Cache[V]) Delete(key string) {
	c.cache.Remove(key)
}

// Len возвращает число записей (с учётом истёкших, ещё не вытесненных).
func (c *Cache[V]) Len() int {
	return c.cache.Len()
}
