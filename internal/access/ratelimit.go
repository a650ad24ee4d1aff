package access

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Limiter is the request-rate accounting contract consumed by the pipeline. The
// in-memory WindowLimiter is per-process; a deployment spanning multiple instances
// needs an implementation backed by a shared counter store.
type Limiter interface {
	TryAcquire(address string, class string) bool
}

const limiterShards = 64

// WindowLimiter tracks fixed-window request counts per (address, endpoint class)
// key. Keys are spread over shards, each guarded by its own mutex, so concurrent
// requests from unrelated addresses rarely contend. Classes without an override
// share the default window and budget.
type WindowLimiter struct {
	window  time.Duration
	max     int
	classes map[string]classLimit
	shards  [limiterShards]*limiterShard
}

type classLimit struct {
	window time.Duration
	max    int
}

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]*countWindow
}

type countWindow struct {
	start  time.Time
	window time.Duration
	count  int
}

func NewWindowLimiter(window time.Duration, maxCount int) *WindowLimiter {
	limiter := &WindowLimiter{window: window, max: maxCount, classes: map[string]classLimit{}}
	for i := range limiter.shards {
		limiter.shards[i] = &limiterShard{windows: map[string]*countWindow{}}
	}

	return limiter
}

// SetClassLimit narrows the window budget for one class. Zero values keep the
// default. Call during startup only; the map is read without locking afterwards.
func (l *WindowLimiter) SetClassLimit(class string, window time.Duration, maxCount int) {
	limit := classLimit{window: l.window, max: l.max}

	if window > 0 {
		limit.window = window
	}

	if maxCount > 0 {
		limit.max = maxCount
	}

	l.classes[class] = limit
}

func (l *WindowLimiter) limitsFor(class string) (time.Duration, int) {
	if limit, found := l.classes[class]; found {
		return limit.window, limit.max
	}

	return l.window, l.max
}

// TryAcquire accounts one request and reports whether it is within the window
// budget. Once a key is throttled the counter stops growing, so a flood of rejected
// requests cannot inflate it without bound.
func (l *WindowLimiter) TryAcquire(address string, class string) bool {
	key := address + "|" + class
	shard := l.shards[xxhash.Sum64String(key)%limiterShards]
	window, maxCount := l.limitsFor(class)
	now := time.Now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	win, found := shard.windows[key]
	if !found || now.Sub(win.start) >= window {
		shard.windows[key] = &countWindow{start: now, window: window, count: 1}

		return true
	}

	if win.count > maxCount {
		return false
	}

	win.count++

	return win.count <= maxCount
}

// Prune drops windows that elapsed before now. Called from housekeeping, never from
// the request path.
func (l *WindowLimiter) Prune(now time.Time) int {
	var pruned int

	for _, shard := range l.shards {
		shard.mu.Lock()

		for key, win := range shard.windows {
			if now.Sub(win.start) >= win.window {
				delete(shard.windows, key)

				pruned++
			}
		}

		shard.mu.Unlock()
	}

	return pruned
}
