package vault

import (
	"container/list"
	"context"
	"fmt"
)

// IdempotencyChecker implements two-tier deduplication of operation ids
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, op string, operationID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks if an operation was already committed. Returns the tier
// that matched ("lru", "postgres") or "" when the id is new. A tier-2 lookup
// error is returned alongside "": the id is treated as new so a DB outage
// never blocks the core, and the caller reports the degraded check.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, op string, operationID string) (string, error) {
	compositeKey := fmt.Sprintf("%s:%s", op, operationID)

	if ic.lru.Contains(compositeKey) {
		return "lru", nil
	}
	if ic.dbChecker == nil {
		return "", nil
	}

	isDup, err := ic.dbChecker.IsDuplicate(ctx, op, operationID)
	if err != nil {
		return "", err
	}
	if isDup {
		ic.lru.Add(compositeKey)
		return "postgres", nil
	}
	return "", nil
}

// MarkProcessed adds key to LRU after successful commit
func (ic *IdempotencyChecker) MarkProcessed(op string, operationID string) {
	ic.lru.Add(fmt.Sprintf("%s:%s", op, operationID))
}

func (ic *IdempotencyChecker) LRU() *IdempotencyLRU { return ic.lru }

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; only accessed from the single-threaded vault core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(key)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads composite keys oldest-first so the newest stay hottest.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns all keys oldest-first (for snapshot creation)
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
