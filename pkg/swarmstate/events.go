package swarmstate

import (
	"sync"
	"time"
)

// EventKind labels a state change observed through Watch.
type EventKind string

const (
	EventResultRecorded EventKind = "result_recorded"
	EventHandoff        EventKind = "handoff"
	EventWorkerStatus   EventKind = "worker_status"
	EventErrorRecorded  EventKind = "error_recorded"
	EventServerStatus   EventKind = "server_status"
	EventWorkflowStep   EventKind = "workflow_step"
)

// Event notifies watchers of a single state mutation. From and To are set
// for handoff events only; Server for server-status events only.
type Event struct {
	Kind   EventKind
	Worker WorkerID
	From   WorkerID
	To     WorkerID
	Server string
	Time   time.Time
}

// Subscription receives state events. Close it when done.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

const defaultWatchBuffer = 64

// Watch registers an observer of state mutations. Delivery is best-effort:
// a watcher that falls behind its buffer misses events rather than blocking
// mutators.
func (s *Store) Watch() Subscription {
	w := &watcher{store: s, ch: make(chan Event, defaultWatchBuffer)}
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
	return w
}

type watcher struct {
	store *Store
	ch    chan Event

	closeMu sync.Mutex
	closed  bool
}

func (w *watcher) Events() <-chan Event { return w.ch }

// Close removes the watcher from the store before marking it closed, so
// both paths acquire the store mutex ahead of closeMu and no publisher can
// race the channel close.
func (w *watcher) Close() error {
	s := w.store
	s.mu.Lock()
	for i, candidate := range s.watchers {
		if candidate == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.ch)
	return nil
}

func (w *watcher) send(event Event) {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- event:
	default:
		// Watcher is behind; drop rather than block the store.
	}
}

// publishLocked fans an event out to all watchers. Callers hold the store
// mutex, which keeps delivery order consistent with mutation order.
func (s *Store) publishLocked(event Event) {
	for _, w := range s.watchers {
		w.send(event)
	}
}
