package core

import (
	"container/list"

	"ForgeLedger/internal/observability"

	"github.com/rs/zerolog"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// in front of the operation log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// DBIdempotencyChecker looks a command up in the persisted operation log.
type DBIdempotencyChecker interface {
	IsDuplicate(commandKind string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

func compositeKey(commandKind, idempotencyKey string) string {
	return commandKind + ":" + idempotencyKey
}

// IsDuplicate reports whether the command was already applied.
func (ic *IdempotencyChecker) IsDuplicate(commandKind string, idempotencyKey string) bool {
	key := compositeKey(commandKind, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(commandKind, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(commandKind, idempotencyKey)
	if err != nil {
		// A failing tier 2 must not stall the core; the unique index on the
		// log still rejects the second write.
		ic.logger.Warn().Err(err).Str("command", commandKind).Msg("idempotency tier 2 lookup failed")
		if ic.metrics != nil {
			ic.metrics.PersistErrors.WithLabelValues("idempotency_lookup").Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(commandKind, "db")
		ic.add(key)
		return true
	}
	return false
}

// MarkProcessed records a successfully applied command.
func (ic *IdempotencyChecker) MarkProcessed(commandKind string, idempotencyKey string) {
	ic.add(compositeKey(commandKind, idempotencyKey))
}

func (ic *IdempotencyChecker) add(key string) {
	evicted := ic.lru.Add(key)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

func (ic *IdempotencyChecker) recordDuplicate(commandKind, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandKind, tier).Inc()
	}
}

// --- LRU ---

// IdempotencyLRU is an LRU set of composite keys.
// Not thread-safe: only the core goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains checks for key and promotes it.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts key and reports whether an older key was evicted.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return false
	}
	lru.cache[key] = lru.order.PushFront(key)

	if lru.order.Len() <= lru.capacity {
		return false
	}
	oldest := lru.order.Back()
	lru.order.Remove(oldest)
	delete(lru.cache, oldest.Value.(string))
	return true
}

// Warm loads keys, oldest first, so the last one ends up most recent.
func (lru *IdempotencyLRU) Warm(keys []string) {
	for _, k := range keys {
		lru.Add(k)
	}
}

// Keys returns the keys from oldest to most recent.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}
