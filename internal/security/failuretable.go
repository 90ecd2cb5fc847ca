package security

import (
	"container/list"
	"sync"
	"time"
)

// FailureResult is returned by RecordFailure.
type FailureResult struct {
	Throttled    bool
	RetryAfterMS int64
}

type failureEntry struct {
	key         string
	count       int
	windowStart time.Time
}

// FailureTable is a sliding-window per-key failure counter bounded at a
// hard capacity, per spec.md §3 "Hook authentication failure table" and
// §4.2 "Auth rate limiter". Both the generic authorizer's rate limiter and
// the hook handler's failure table are instances of this same type — the
// data model treats them as distinct tables because each authenticates a
// different surface, but the eviction/refresh algorithm is identical.
//
// Unlike a token-bucket limiter (golang.org/x/time/rate), this counts
// raw failures within a fixed window and blocks once the limit is
// reached for the remainder of the window — there is no steady-state
// replenishment mid-window, matching spec.md §4.2 literally.
type FailureTable struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	capacity int

	entries map[string]*list.Element // key -> element holding *failureEntry
	order   *list.List               // front = oldest insertion, back = most recent
}

// NewFailureTable creates a FailureTable with the given window, limit, and
// hard capacity.
func NewFailureTable(window time.Duration, limit, capacity int) *FailureTable {
	return &FailureTable{
		window:   window,
		limit:    limit,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// RecordFailure records a failed authentication attempt for key at time
// now and reports whether the caller is currently throttled. If the
// window has elapsed since the key's window started (its first failure
// in the current window), the count resets to 1 and a fresh window starts.
func (t *FailureTable) RecordFailure(key string, now time.Time) FailureResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.entries[key]; ok {
		e := el.Value.(*failureEntry)
		if now.Sub(e.windowStart) >= t.window {
			e.count = 0
			e.windowStart = now
		}

		if e.count >= t.limit {
			retryAfter := t.window - now.Sub(e.windowStart)
			if retryAfter < 0 {
				retryAfter = 0
			}
			t.touch(el)
			return FailureResult{Throttled: true, RetryAfterMS: ceilMillis(retryAfter)}
		}

		e.count++
		t.touch(el)
		if e.count >= t.limit {
			retryAfter := t.window - now.Sub(e.windowStart)
			return FailureResult{Throttled: false, RetryAfterMS: ceilMillis(retryAfter)}
		}
		return FailureResult{}
	}

	t.evictIfNeeded(now)

	e := &failureEntry{key: key, count: 1, windowStart: now}
	el := t.order.PushBack(e)
	t.entries[key] = el
	return FailureResult{}
}

// Clear removes key's failure record, matching spec.md §3: "Reset on
// successful authentication."
func (t *FailureTable) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		t.order.Remove(el)
		delete(t.entries, key)
	}
}

// Len reports the number of tracked keys, for tests.
func (t *FailureTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// touch moves el to the back of the order list (most recently used),
// matching spec.md §3: "On every re-insertion of an existing key:
// remove-then-insert to refresh recency order."
func (t *FailureTable) touch(el *list.Element) {
	t.order.MoveToBack(el)
}

// evictIfNeeded enforces the hard capacity before a new key is inserted:
// first prune every entry whose window has elapsed, then — if still over
// capacity — drop the oldest half by insertion order (spec.md §3).
func (t *FailureTable) evictIfNeeded(now time.Time) {
	if len(t.entries) < t.capacity {
		return
	}

	for el := t.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*failureEntry)
		if now.Sub(e.windowStart) >= t.window {
			t.order.Remove(el)
			delete(t.entries, e.key)
		}
		el = next
	}

	if len(t.entries) < t.capacity {
		return
	}

	toDrop := len(t.entries) / 2
	for i := 0; i < toDrop; i++ {
		el := t.order.Front()
		if el == nil {
			break
		}
		e := el.Value.(*failureEntry)
		t.order.Remove(el)
		delete(t.entries, e.key)
	}
}

func ceilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	ms := d.Milliseconds()
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		ms = 1
	}
	return ms
}
