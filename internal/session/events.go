package session

import (
	"sync"

	"github.com/usestring/mitmsession/pkg/types"
)

type listener[E any] struct {
	id int
	fn func(E)
}

// listeners is an ordered observer list. Delivery is synchronous, in
// subscription order, on the emitting goroutine.
type listeners[E any] struct {
	mu     sync.Mutex
	nextID int
	subs   []listener[E]
}

func (l *listeners[E]) add(fn func(E)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subs = append(l.subs, listener[E]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[E]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *listeners[E]) emit(ev E) int {
	l.mu.Lock()
	subs := make([]listener[E], len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
	return len(subs)
}

// events groups the observer lists a session exposes.
type events struct {
	request   listeners[types.RequestEvent]
	response  listeners[types.ResponseEvent]
	httpError listeners[types.HTTPErrorEvent]
}

// OnRequest subscribes to transaction starts. The returned func unsubscribes.
func (s *Session) OnRequest(fn func(types.RequestEvent)) func() {
	return s.events.request.add(fn)
}

// OnResponse subscribes to transaction completions.
func (s *Session) OnResponse(fn func(types.ResponseEvent)) func() {
	return s.events.response.add(fn)
}

// OnHTTPError subscribes to transaction failures.
func (s *Session) OnHTTPError(fn func(types.HTTPErrorEvent)) func() {
	return s.events.httpError.add(fn)
}

// EmitRequest delivers ev to every request subscriber and returns how many
// were called. Subscribers must not block.
func (s *Session) EmitRequest(ev types.RequestEvent) int {
	return s.events.request.emit(ev)
}

// EmitResponse delivers ev to every response subscriber.
func (s *Session) EmitResponse(ev types.ResponseEvent) int {
	return s.events.response.emit(ev)
}

// EmitHTTPError delivers ev to every httpError subscriber.
func (s *Session) EmitHTTPError(ev types.HTTPErrorEvent) int {
	return s.events.httpError.emit(ev)
}
