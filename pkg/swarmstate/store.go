package swarmstate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerID identifies one of the fixed set of cooperating workers.
type WorkerID string

// WorkerStatus tracks what a worker is currently doing.
type WorkerStatus string

const (
	StatusIdle    WorkerStatus = "idle"
	StatusBusy    WorkerStatus = "busy"
	StatusError   WorkerStatus = "error"
	StatusWaiting WorkerStatus = "waiting"
)

// Sentinel errors for coordination-state operations. Handoff failures are
// wrapped in *HandoffError; match kinds with errors.Is.
var (
	// ErrUnknownWorker indicates a worker ID outside the static set.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrInvalidTarget indicates a handoff target outside the static set.
	ErrInvalidTarget = errors.New("invalid handoff target")
	// ErrNotActive indicates the requesting worker does not hold control.
	ErrNotActive = errors.New("worker is not active")
	// ErrForbidden indicates the transfer is not in the adjacency set.
	ErrForbidden = errors.New("handoff not permitted")
	// ErrUnknownStep indicates a step name outside the current workflow.
	ErrUnknownStep = errors.New("unknown workflow step")
)

// HandoffError wraps a rejected handoff with both endpoints so callers can
// distinguish a timing race (NotActive) from a policy violation (Forbidden)
// or a typo (InvalidTarget).
type HandoffError struct {
	From WorkerID
	To   WorkerID
	Err  error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("swarmstate: handoff %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *HandoffError) Unwrap() error { return e.Err }

// WorkerResult is one entry in a worker's append-only result history.
// Never mutated after creation.
type WorkerResult struct {
	ID        string
	Worker    WorkerID
	Payload   any
	Timestamp time.Time
}

// HandoffRecord captures one transfer of control. The most recent record
// determines the active worker; earlier records are retained for audit.
type HandoffRecord struct {
	ID        string
	From      WorkerID
	To        WorkerID
	Context   any
	Timestamp time.Time
}

// ErrorRecord is one entry in the append-only error stack.
type ErrorRecord struct {
	Worker    WorkerID
	Kind      string
	Message   string
	Timestamp time.Time
}

// ServerStatus mirrors the last-observed availability of a tool server so
// handoff decisions can consult tool availability without calling into the
// connection manager.
type ServerStatus struct {
	Name      string
	State     string
	CheckedAt time.Time
	Tools     []string
}

// Store is the single, mutation-safe coordination state for a session.
// Exactly one instance exists per running session; every read and write
// passes through its mutex, and critical sections are pure in-memory
// mutation. Callers must never hold I/O inside them.
type Store struct {
	mu sync.RWMutex

	workers  map[WorkerID]struct{}
	active   WorkerID
	statuses map[WorkerID]WorkerStatus

	results  map[WorkerID][]WorkerResult
	handoffs []HandoffRecord
	contexts map[WorkerID]any

	workflow string
	steps    []WorkflowStep

	errorLog []ErrorRecord
	servers  map[string]ServerStatus

	watchers []*watcher
}

// NewStore builds a store over the fixed worker set. The initial active
// worker must be a member of the set; it starts busy, everyone else idle.
func NewStore(workers []WorkerID, initialActive WorkerID) (*Store, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("swarmstate: worker set is empty")
	}
	set := make(map[WorkerID]struct{}, len(workers))
	statuses := make(map[WorkerID]WorkerStatus, len(workers))
	for _, w := range workers {
		if w == "" {
			return nil, fmt.Errorf("swarmstate: empty worker id")
		}
		if _, dup := set[w]; dup {
			return nil, fmt.Errorf("swarmstate: duplicate worker id %q", w)
		}
		set[w] = struct{}{}
		statuses[w] = StatusIdle
	}
	if _, ok := set[initialActive]; !ok {
		return nil, fmt.Errorf("swarmstate: initial active worker %q: %w", initialActive, ErrUnknownWorker)
	}
	statuses[initialActive] = StatusBusy
	return &Store{
		workers:  set,
		active:   initialActive,
		statuses: statuses,
		results:  make(map[WorkerID][]WorkerResult),
		contexts: make(map[WorkerID]any),
		servers:  make(map[string]ServerStatus),
	}, nil
}

// Workers returns the static worker set, sorted.
func (s *Store) Workers() []WorkerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WorkerID, 0, len(s.workers))
	for w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsWorker reports whether the ID belongs to the static worker set.
func (s *Store) IsWorker(worker WorkerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workers[worker]
	return ok
}

// ActiveWorker returns the worker currently holding control.
func (s *Store) ActiveWorker() WorkerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// RecordResult appends a result to the worker's history. Entries from one
// worker keep their submission order; entries from different workers merge
// in lock-arrival order.
func (s *Store) RecordResult(worker WorkerID, payload any) (WorkerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[worker]; !ok {
		return WorkerResult{}, fmt.Errorf("swarmstate: record result: %w: %q", ErrUnknownWorker, worker)
	}
	rec := WorkerResult{
		ID:        uuid.NewString(),
		Worker:    worker,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	s.results[worker] = append(s.results[worker], rec)
	s.publishLocked(Event{Kind: EventResultRecorded, Worker: worker, Time: rec.Timestamp})
	return rec, nil
}

// Results returns a copy of the worker's result history in submission order.
func (s *Store) Results(worker WorkerID) []WorkerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WorkerResult(nil), s.results[worker]...)
}

// RequestHandoff transfers control from one worker to another. The new
// active worker, the appended record, and the handoff context become
// visible atomically. Fails with ErrInvalidTarget when the target is
// unknown and ErrNotActive when the requester does not hold control;
// neither failure mutates any state.
func (s *Store) RequestHandoff(from, to WorkerID, context any) (HandoffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[to]; !ok {
		return HandoffRecord{}, &HandoffError{From: from, To: to, Err: ErrInvalidTarget}
	}
	if from != s.active {
		return HandoffRecord{}, &HandoffError{From: from, To: to, Err: ErrNotActive}
	}
	rec := HandoffRecord{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Context:   context,
		Timestamp: time.Now(),
	}
	s.handoffs = append(s.handoffs, rec)
	s.active = to
	s.contexts[to] = context
	s.statuses[from] = StatusIdle
	s.statuses[to] = StatusBusy
	s.publishLocked(Event{Kind: EventHandoff, Worker: to, From: from, To: to, Time: rec.Timestamp})
	return rec, nil
}

// HandoffContext returns the context carried by the most recent handoff
// targeting the worker. Reads are idempotent: the same value comes back
// until a later handoff to the same worker supersedes it.
func (s *Store) HandoffContext(worker WorkerID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.contexts[worker]
	return ctx, ok
}

// HandoffLog returns a copy of the full handoff history, oldest first.
func (s *Store) HandoffLog() []HandoffRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HandoffRecord(nil), s.handoffs...)
}

// SetWorkerStatus overrides a worker's status outside the automatic
// idle/busy flips performed by RequestHandoff.
func (s *Store) SetWorkerStatus(worker WorkerID, status WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[worker]; !ok {
		return fmt.Errorf("swarmstate: set status: %w: %q", ErrUnknownWorker, worker)
	}
	s.statuses[worker] = status
	s.publishLocked(Event{Kind: EventWorkerStatus, Worker: worker, Time: time.Now()})
	return nil
}

// WorkerStatuses returns a copy of every worker's current status.
func (s *Store) WorkerStatuses() map[WorkerID]WorkerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[WorkerID]WorkerStatus, len(s.statuses))
	for w, st := range s.statuses {
		out[w] = st
	}
	return out
}

// RecordError appends to the session's error stack.
func (s *Store) RecordError(worker WorkerID, kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[worker]; !ok {
		return fmt.Errorf("swarmstate: record error: %w: %q", ErrUnknownWorker, worker)
	}
	rec := ErrorRecord{Worker: worker, Kind: kind, Message: message, Timestamp: time.Now()}
	s.errorLog = append(s.errorLog, rec)
	s.publishLocked(Event{Kind: EventErrorRecorded, Worker: worker, Time: rec.Timestamp})
	return nil
}

// Errors returns a copy of the error stack, oldest first.
func (s *Store) Errors() []ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ErrorRecord(nil), s.errorLog...)
}

// UpdateServerStatus records the last-observed availability of a tool
// server, keyed by server name.
func (s *Store) UpdateServerStatus(status ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[status.Name] = status
	s.publishLocked(Event{Kind: EventServerStatus, Server: status.Name, Time: time.Now()})
}

// ServerStatuses returns a copy of the per-server status mirror.
func (s *Store) ServerStatuses() map[string]ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ServerStatus, len(s.servers))
	for name, st := range s.servers {
		out[name] = st
	}
	return out
}
