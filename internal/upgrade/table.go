// Package upgrade correlates protocol-upgrade requests with sessions by a
// fingerprint of the headers the browser sends verbatim on the upgrade.
//
// Some proxies cannot attach a session marker header to an upgrade request,
// so the instrumentation channel reports the upgrade's headers and the proxy
// looks the session up by the same fingerprint. Two sessions sending an
// identical header set will collide; the first report wins.
package upgrade

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/usestring/mitmsession/pkg/resolvable"
	"github.com/usestring/mitmsession/pkg/types"
)

// FingerprintHeaders is the fixed, ordered header set a fingerprint is built from.
var FingerprintHeaders = []string{
	"Accept-Encoding",
	"Cache-Control",
	"Connection",
	"Host",
	"Origin",
	"Pragma",
	"Sec-WebSocket-Extensions",
	"Sec-WebSocket-Key",
	"Sec-WebSocket-Version",
	"Upgrade",
	"User-Agent",
}

// Fingerprint joins the values of FingerprintHeaders as "Name=value" pairs.
// Missing headers contribute an empty value so the key shape never changes.
func Fingerprint(headers types.Headers) string {
	var sb strings.Builder
	for i, name := range FingerprintHeaders {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(headers.Get(name))
	}
	return sb.String()
}

// Table is the process-wide fingerprint -> session rendezvous.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	future *resolvable.Future[types.UpgradeLookup]
	// waiters counts Await calls still blocked on future.
	waiters int
}

// resolved reports whether the entry holds a successful report.
func (e *entry) resolved() bool {
	_, settled, err := e.future.Peek()
	return settled && err == nil
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]*entry),
	}
}

// getOrCreate returns the entry for key. An entry that already failed (timed
// out) is replaced so a later upgrade with the same fingerprint can still be
// correlated. Must be called with t.mu held.
func (t *Table) getOrCreate(key string, timeout time.Duration) *entry {
	if e, ok := t.entries[key]; ok {
		if _, settled, err := e.future.Peek(); !settled || err == nil {
			return e
		}
	}

	e := &entry{future: resolvable.New[types.UpgradeLookup](timeout)}
	t.entries[key] = e
	return e
}

// Report resolves the entry for the fingerprint of headers with the given
// session. Returns false when the entry was already resolved.
func (t *Table) Report(sessionID, browserRequestID string, headers types.Headers) bool {
	key := Fingerprint(headers)

	t.mu.Lock()
	e := t.getOrCreate(key, 0)
	t.mu.Unlock()

	ok := e.future.Resolve(types.UpgradeLookup{
		SessionID:        sessionID,
		BrowserRequestID: browserRequestID,
	})
	if !ok {
		slog.Debug("upgrade fingerprint already resolved",
			slog.String("session_id", sessionID),
			slog.String("browser_request_id", browserRequestID),
		)
	}
	return ok
}

// Await waits for a report matching the fingerprint of headers. A positive
// timeout bounds the wait from the moment the entry is created; an entry
// created earlier by a report or another waiter keeps its own deadline.
//
// When the last waiter gives up, by timeout or by ctx, an entry that holds no
// report is dropped.
func (t *Table) Await(ctx context.Context, headers types.Headers, timeout time.Duration) (types.UpgradeLookup, error) {
	key := Fingerprint(headers)

	t.mu.Lock()
	e := t.getOrCreate(key, timeout)
	e.waiters++
	t.mu.Unlock()

	lookup, err := e.future.Wait(ctx)
	t.leave(key, e, err != nil)

	if errors.Is(err, resolvable.ErrTimeout) {
		slog.Warn("timed out correlating upgrade request",
			slog.String("host", headers.Get("Host")),
			slog.Duration("timeout", timeout),
		)
	}
	return lookup, err
}

// leave releases one waiter of e and drops e when it was the last waiter of
// a failed wait and e is still the current, unresolved entry for key.
func (t *Table) leave(key string, e *entry, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.waiters--
	if !failed || e.waiters > 0 || e.resolved() {
		return
	}
	if t.entries[key] == e {
		delete(t.entries, key)
	}
}

// RemoveSession deletes every resolved entry owned by sessionID and returns
// how many were removed. Unresolved entries and entries of other sessions are
// left alone.
func (t *Table) RemoveSession(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, e := range t.entries {
		lookup, settled, err := e.future.Peek()
		if !settled || err != nil {
			continue
		}
		if lookup.SessionID == sessionID {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
