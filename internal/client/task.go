package client

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventCacheHit carries a payload read from the response cache.
	EventCacheHit EventKind = iota
	// EventLiveSuccess carries the payload of a successful live request.
	EventLiveSuccess
	// EventLiveFailure carries the error of a failed live request.
	EventLiveFailure
)

func (k EventKind) String() string {
	switch k {
	case EventCacheHit:
		return "cache_hit"
	case EventLiveSuccess:
		return "live_success"
	case EventLiveFailure:
		return "live_failure"
	default:
		return "unknown"
	}
}

// Event is one result of a task.
//
// A task emits at most one EventCacheHit and exactly one of EventLiveSuccess
// or EventLiveFailure. The cache hit may arrive before or after the live
// result.
type Event struct {
	Kind       EventKind
	Payload    any
	Err        error
	StatusCode int
	Header     http.Header
	// StoredAt is set for cache hits only
	StoredAt time.Time
}

// Terminal reports whether e ends the live part of a task.
func (e Event) Terminal() bool {
	return e.Kind == EventLiveSuccess || e.Kind == EventLiveFailure
}

// Handlers is a callback view over a task's events. Nil handlers are skipped.
type Handlers struct {
	OnCacheHit func(payload any)
	OnSuccess  func(payload any)
	OnFailure  func(err error)
}

// Task is a single in-flight request.
type Task struct {
	id     string
	method string
	url    string

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	terminal Event
	hitSent  bool
}

func newTask(id, method, rawURL string, cancel context.CancelFunc) *Task {
	return &Task{
		id:     id,
		method: method,
		url:    rawURL,
		// one cache hit plus one terminal event, so senders never block
		events: make(chan Event, 2),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// ID returns the task identifier used in logs.
func (t *Task) ID() string { return t.id }

// URL returns the URL the task was started with.
func (t *Task) URL() string { return t.url }

// Method returns the HTTP method of the task.
func (t *Task) Method() string { return t.method }

// Events returns the task's event stream. It is closed once the cache lookup
// and the live request have both finished.
func (t *Task) Events() <-chan Event { return t.events }

// Done is closed once the live result is known.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel aborts the live request. A cache lookup already running completes.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the live result is known and returns it.
// It does not consume Events.
func (t *Task) Wait() Event {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminal
}

// Dispatch feeds every event to h in arrival order and returns when the
// event stream is closed.
func (t *Task) Dispatch(h Handlers) {
	for ev := range t.events {
		switch ev.Kind {
		case EventCacheHit:
			if h.OnCacheHit != nil {
				h.OnCacheHit(ev.Payload)
			}
		case EventLiveSuccess:
			if h.OnSuccess != nil {
				h.OnSuccess(ev.Payload)
			}
		case EventLiveFailure:
			if h.OnFailure != nil {
				h.OnFailure(ev.Err)
			}
		}
	}
}

func (t *Task) deliverHit(ev Event) {
	t.mu.Lock()
	if t.hitSent {
		t.mu.Unlock()
		return
	}
	t.hitSent = true
	t.mu.Unlock()

	ev.Kind = EventCacheHit
	t.events <- ev
}

func (t *Task) finish(ev Event) {
	t.mu.Lock()
	t.terminal = ev
	t.mu.Unlock()

	t.events <- ev
	close(t.done)
}

// failedTask returns a task that has already failed with err.
func failedTask(id, method, rawURL string, err error) *Task {
	t := newTask(id, method, rawURL, func() {})
	t.finish(Event{Kind: EventLiveFailure, Err: err})
	close(t.events)
	return t
}
