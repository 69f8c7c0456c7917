package service

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Memo memoizes an async function. Concurrent calls whose key parts are
// equal share one in-flight invocation; a successful result is then served
// to later callers until ttl has elapsed since the invocation started.
//
// Expiry is lazy: an entry is only replaced when a caller finds it stale.
// A ttl of zero keeps no results and only coalesces in-flight calls.
type Memo[A, V any] struct {
	fn          func(context.Context, A) (V, error)
	key         func(A) []string
	ttl         time.Duration
	now         func() time.Time
	cacheErrors bool
	onResult    func(hit bool)

	mu      sync.Mutex
	entries map[uint64]*memoEntry[V]
}

type memoEntry[V any] struct {
	done     chan struct{}
	val      V
	err      error
	inserted time.Time
}

// MemoOption configures a Memo.
type MemoOption func(*memoOptions)

type memoOptions struct {
	now         func() time.Time
	cacheErrors bool
	onResult    func(hit bool)
}

// WithMemoClock replaces time.Now.
func WithMemoClock(now func() time.Time) MemoOption {
	return func(o *memoOptions) { o.now = now }
}

// WithCachedErrors keeps failed results for the ttl as well. By default a
// failed entry is evicted as soon as it settles so the next call retries.
func WithCachedErrors() MemoOption {
	return func(o *memoOptions) { o.cacheErrors = true }
}

// WithMemoObserver is called once per Do with whether the call joined an
// existing entry (hit) or started a new invocation.
func WithMemoObserver(fn func(hit bool)) MemoOption {
	return func(o *memoOptions) { o.onResult = fn }
}

// NewMemo wraps fn. key extracts the parts of the argument that identify a
// call; they are hashed with xxhash, so two arguments with equal parts share
// a result.
func NewMemo[A, V any](fn func(context.Context, A) (V, error), key func(A) []string, ttl time.Duration, opts ...MemoOption) *Memo[A, V] {
	o := memoOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memo[A, V]{
		fn:          fn,
		key:         key,
		ttl:         ttl,
		now:         o.now,
		cacheErrors: o.cacheErrors,
		onResult:    o.onResult,
		entries:     make(map[uint64]*memoEntry[V]),
	}
}

// Do returns the memoized result for arg, invoking fn if there is no live entry.
//
// The invocation runs detached from ctx so that one caller giving up does not
// fail the others sharing it; each caller stops waiting when its own ctx is done.
func (m *Memo[A, V]) Do(ctx context.Context, arg A) (V, error) {
	k := memoKey(m.key(arg))

	m.mu.Lock()
	e, ok := m.entries[k]
	if ok && m.stale(e) {
		ok = false
	}
	if !ok {
		e = &memoEntry[V]{done: make(chan struct{}), inserted: m.now()}
		m.entries[k] = e
		go m.run(context.WithoutCancel(ctx), k, e, arg)
	}
	m.mu.Unlock()

	if m.onResult != nil {
		m.onResult(ok)
	}

	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (m *Memo[A, V]) run(ctx context.Context, k uint64, e *memoEntry[V], arg A) {
	val, err := m.fn(ctx, arg)

	m.mu.Lock()
	e.val, e.err = val, err
	close(e.done)
	if (err != nil && !m.cacheErrors) || m.ttl <= 0 {
		if m.entries[k] == e {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// stale reports whether a settled entry has outlived the ttl. Pending
// entries are never stale. Caller holds m.mu.
func (m *Memo[A, V]) stale(e *memoEntry[V]) bool {
	select {
	case <-e.done:
	default:
		return false
	}
	return m.now().Sub(e.inserted) >= m.ttl
}

// Forget drops the entry for arg so the next call re-invokes fn.
func (m *Memo[A, V]) Forget(arg A) {
	k := memoKey(m.key(arg))
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, k)
}

// Len returns the number of entries, including stale ones not yet replaced.
func (m *Memo[A, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memoKey hashes key parts with a zero-byte separator.
func memoKey(parts []string) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
