// Package redirect reconstructs redirect chains from the ordered log of
// requests tracked in a session.
package redirect

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/usestring/mitmsession/pkg/types"
)

// Tracker is an append-only, arrival-ordered log of tracked requests with an
// inverted index from redirect target to log positions.
type Tracker struct {
	mu sync.RWMutex

	requests []*types.TrackedRequest

	// redirect target URL -> positions of requests that redirected there
	idxRedirectTo map[string]*roaring.Bitmap
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		requests:      make([]*types.TrackedRequest, 0, 64),
		idxRedirectTo: make(map[string]*roaring.Bitmap),
	}
}

// Track derives the redirect fields of req from previously tracked requests,
// appends it to the log and returns it.
//
// req is a redirect continuation when an earlier request's redirect target
// equals req.URL. FirstRedirectingURL follows the chain back to its earliest
// request, stopping at a missing predecessor or an already visited entry.
func (t *Tracker) Track(req *types.TrackedRequest) *types.TrackedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	req.IsFromRedirect = false
	req.PreviousURL = ""
	req.FirstRedirectingURL = ""

	if prev := t.predecessorLocked(req.URL); prev != nil {
		req.IsFromRedirect = true
		req.PreviousURL = prev.URL
		req.FirstRedirectingURL = t.chainStartLocked(prev).URL
	}

	t.appendLocked(req)
	return req
}

// predecessorLocked returns the earliest tracked request that redirected to url.
func (t *Tracker) predecessorLocked(url string) *types.TrackedRequest {
	bm, ok := t.idxRedirectTo[url]
	if !ok || bm.IsEmpty() {
		return nil
	}
	return t.requests[bm.Minimum()]
}

// chainStartLocked walks backward from start to the first request of its chain.
func (t *Tracker) chainStartLocked(start *types.TrackedRequest) *types.TrackedRequest {
	visited := map[*types.TrackedRequest]bool{start: true}
	cur := start
	for cur.IsFromRedirect {
		prev := t.predecessorLocked(cur.URL)
		if prev == nil || visited[prev] {
			break
		}
		visited[prev] = true
		cur = prev
	}
	return cur
}

func (t *Tracker) appendLocked(req *types.TrackedRequest) {
	pos := uint32(len(t.requests))
	t.requests = append(t.requests, req)

	if req.RedirectedToURL == "" {
		return
	}
	bm, exists := t.idxRedirectTo[req.RedirectedToURL]
	if !exists {
		bm = roaring.New()
		t.idxRedirectTo[req.RedirectedToURL] = bm
	}
	bm.Add(pos)
}

// Requests returns a snapshot of the log in arrival order.
func (t *Tracker) Requests() []*types.TrackedRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.TrackedRequest, len(t.requests))
	copy(out, t.requests)
	return out
}

// RedirectsTo returns every tracked request that redirected to url, oldest first.
func (t *Tracker) RedirectsTo(url string) []*types.TrackedRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bm, ok := t.idxRedirectTo[url]
	if !ok {
		return nil
	}
	out := make([]*types.TrackedRequest, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, t.requests[it.Next()])
	}
	return out
}

// Len returns the number of tracked requests.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}

// Reset discards the whole log.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = nil
	t.idxRedirectTo = make(map[string]*roaring.Bitmap)
}
