// Package pending provides the per-session rendezvous table that matches a
// proxied request with the browser metadata reported for it.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usestring/mitmsession/pkg/resolvable"
	"github.com/usestring/mitmsession/pkg/types"
)

var (
	// ErrClosed is returned to waiters when the owning session closes.
	ErrClosed = errors.New("pending: session closed")

	// ErrEvicted is returned to waiters whose load was pushed out of a full table.
	ErrEvicted = errors.New("pending: resource load evicted")
)

// key is the natural key of a pending load.
type key struct {
	url    string
	method string
}

// Load is a rendezvous record for one (url, method) pair. Identical requests
// share one Load; each report replaces its metadata, so waiters observe the
// latest report.
type Load struct {
	URL    string
	Method string
	future *resolvable.Future[types.BrowserResource]
	// current is guarded by the owning table's mutex.
	current types.BrowserResource
}

// Resolved reports whether metadata has been reported for this load.
func (l *Load) Resolved() bool {
	return l.future.IsResolved()
}

// Table is a bounded, LRU-evicting set of pending loads.
type Table struct {
	mu     sync.Mutex
	loads  *lru.Cache[key, *Load]
	closed bool
}

// NewTable creates a table holding at most maxItems loads.
func NewTable(maxItems int) (*Table, error) {
	loads, err := lru.NewWithEvict[key, *Load](maxItems, func(k key, l *Load) {
		if l.future.Reject(ErrEvicted) {
			slog.Debug("evicted unresolved resource load",
				slog.String("url", k.url),
				slog.String("method", k.method),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating pending table: %w", err)
	}
	return &Table{loads: loads}, nil
}

// getOrCreate returns the load for (url, method), creating it if needed.
// Returns nil when the table is closed.
func (t *Table) getOrCreate(url, method string) *Load {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getOrCreateLocked(url, method)
}

func (t *Table) getOrCreateLocked(url, method string) *Load {
	if t.closed {
		return nil
	}

	k := key{url: url, method: method}
	if l, ok := t.loads.Get(k); ok {
		return l
	}

	l := &Load{
		URL:    url,
		Method: method,
		future: resolvable.New[types.BrowserResource](0),
	}
	t.loads.Add(k, l)
	return l
}

// Await blocks until metadata for (url, method) is reported, the table is
// closed, or ctx is done. Either side may arrive first.
func (t *Table) Await(ctx context.Context, url, method string) (types.BrowserResource, error) {
	l := t.getOrCreate(url, method)
	if l == nil {
		return types.BrowserResource{}, ErrClosed
	}
	if _, err := l.future.Wait(ctx); err != nil {
		return types.BrowserResource{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return l.current, nil
}

// Report records metadata and wakes every waiter on its (URL, Method) key.
// A later report for the same key replaces the stored metadata. Returns true
// only for the report that first resolved the load.
func (t *Table) Report(res types.BrowserResource) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.getOrCreateLocked(res.URL, res.Method)
	if l == nil {
		return false
	}
	l.current = res
	return l.future.Resolve(res)
}

// Lookup returns the load for (url, method) without creating it.
func (t *Table) Lookup(url, method string) (*Load, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loads.Peek(key{url: url, method: method})
}

// Len returns the number of loads currently held.
func (t *Table) Len() int {
	return t.loads.Len()
}

// Close releases every waiter with ErrClosed and discards all loads.
// It is safe to call more than once.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for _, l := range t.loads.Values() {
		l.future.Reject(ErrClosed)
	}
	t.loads.Purge()
}
