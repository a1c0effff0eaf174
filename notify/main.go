// Package notify carries events between the simulation's components.
//
// Hooks and Queue are synchronous and meant for use on the tick goroutine.
// Multiplexer fans values out to channel subscribers on other goroutines.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type hook[E any] struct {
	id      int
	comment string
	f       func(E) bool
}

// Hooks is an ordered list of observers.
// An observer returning false vetoes the event; every observer is still called.
type Hooks[E any] struct {
	hooks  []hook[E]
	nextID int
}

// Add registers f and returns a function that removes it again.
func (h *Hooks[E]) Add(comment string, f func(E) bool) (remove func()) {
	id := h.nextID
	h.nextID++
	h.hooks = append(h.hooks, hook[E]{id: id, comment: comment, f: f})
	return func() {
		i := slices.IndexFunc(h.hooks, func(k hook[E]) bool { return k.id == id })
		if i == -1 {
			return
		}
		h.hooks = slices.Delete(h.hooks, i, i+1)
	}
}

// Fire calls every observer in registration order.
// It reports whether no observer vetoed e. A nil *Hooks accepts everything.
func (h *Hooks[E]) Fire(e E) (accepted bool) {
	if h == nil {
		return true
	}
	accepted = true
	// copy so observers may remove themselves
	hooks := slices.Clone(h.hooks)
	for _, k := range hooks {
		if !k.f(e) {
			zap.S().Debugf("notify: %s vetoed %#v", k.comment, e)
			accepted = false
		}
	}
	return accepted
}

func (h *Hooks[E]) Len() int {
	if h == nil {
		return 0
	}
	return len(h.hooks)
}

// Queue is a FIFO of events drained once per tick.
type Queue[E any] struct {
	pending []E
}

func (q *Queue[E]) Push(e E) {
	q.pending = append(q.pending, e)
}

func (q *Queue[E]) Len() int {
	return len(q.pending)
}

// Drain hands every queued event to f in push order.
// Events pushed while draining are kept for the next Drain.
func (q *Queue[E]) Drain(f func(E)) {
	batch := q.pending
	q.pending = nil
	for _, e := range batch {
		f(e)
	}
}

const multiplexerTimeout = 200 * time.Millisecond

type subscriber[E any] struct {
	ch      chan E
	comment string
}

// Multiplexer sends every value to all subscribed channels.
// A subscriber that doesn't receive within multiplexerTimeout is skipped for that value.
type Multiplexer[E any] struct {
	comment         string
	subscribersLock sync.Mutex
	subscribers     []subscriber[E]
}

func NewMultiplexer[E any](comment string) *Multiplexer[E] {
	return &Multiplexer[E]{comment: comment}
}

func (m *Multiplexer[E]) Subscribe(comment string, c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	m.subscribers = append(m.subscribers, subscriber[E]{ch: c, comment: comment})
}

func (m *Multiplexer[E]) Unsubscribe(c chan E) {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	i := slices.IndexFunc(m.subscribers, func(sub subscriber[E]) bool { return sub.ch == c })
	if i == -1 {
		panic("already unsubscribed")
	}
	m.subscribers = slices.Delete(m.subscribers, i, i+1)
}

func (m *Multiplexer[E]) Len() int {
	m.subscribersLock.Lock()
	defer m.subscribersLock.Unlock()
	return len(m.subscribers)
}

// Send delivers e to every subscriber without blocking the caller.
func (m *Multiplexer[E]) Send(e E) {
	m.subscribersLock.Lock()
	subs := slices.Clone(m.subscribers)
	m.subscribersLock.Unlock()
	if len(subs) == 0 {
		return
	}
	go m.send(subs, e)
}

func (m *Multiplexer[E]) send(subs []subscriber[E], e E) {
	for _, sub := range subs {
		select {
		case sub.ch <- e:
		case <-time.After(multiplexerTimeout):
			zap.S().Warnw("multiplexer subscriber timed out",
				"multiplexer", m.comment,
				"subscriber", sub.comment)
		}
	}
}
