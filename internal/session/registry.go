package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry maps session ids to live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register stores s under its id and returns the session it superseded, if any.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[s.id]
	r.sessions[s.id] = s
	return prev
}

// Get returns the session registered under id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Lookup returns the session registered under id. When there is no exact
// match it falls back to a case-insensitive one, since net/http canonicalizes
// the header names that carry ids.
func (r *Registry) Lookup(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}
	// Ids that differ only by case are ambiguous; resolve none of them.
	var match *Session
	for key, s := range r.sessions {
		if strings.EqualFold(key, id) {
			if match != nil {
				return nil
			}
			match = s
		}
	}
	return match
}

// Remove deregisters s. A session that has since been superseded under the
// same id is not touched. Removing twice is a no-op.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
		return true
	}
	return false
}

// List returns the registered sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll runs closeFn for every registered session concurrently and waits
// for all of them or for ctx to end. Every session is closed even when some
// fail; the errors are joined. When ctx ends first, closes still running keep
// going in the background and ctx.Err() is joined with the errors collected
// so far.
func (r *Registry) CloseAll(ctx context.Context, closeFn func(context.Context, *Session) error) error {
	sessions := r.List()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := closeFn(ctx, s); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(append([]error{ctx.Err()}, errs...)...)
	}
}
