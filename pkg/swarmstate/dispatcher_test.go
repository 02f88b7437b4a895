package swarmstate

import (
	"errors"
	"testing"
)

func testDispatcher(t *testing.T) (*Store, *Dispatcher) {
	t.Helper()
	store := newTestStore(t)
	dispatcher := NewDispatcher(store, Adjacency{
		"analyzing": {"data", "env"},
		"data":      {"analyzing", "code"},
		"env":       {"analyzing"},
		"code":      {"data"},
	})
	return store, dispatcher
}

func TestCanHandoff(t *testing.T) {
	t.Parallel()

	_, d := testDispatcher(t)
	cases := []struct {
		from, to WorkerID
		want     bool
	}{
		{"analyzing", "data", true},
		{"analyzing", "env", true},
		{"analyzing", "code", false},
		{"data", "code", true},
		{"env", "code", false},
		{"ghost", "data", false},
		{"analyzing", "ghost", false},
	}
	for _, tc := range cases {
		if got := d.CanHandoff(tc.from, tc.to); got != tc.want {
			t.Errorf("CanHandoff(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDispatcherForbiddenBeforeStore(t *testing.T) {
	t.Parallel()

	store, d := testDispatcher(t)

	// "code" is a known worker but not adjacent to "analyzing": rejected by
	// policy, before any state is touched.
	_, err := d.RequestHandoff("analyzing", "code", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if store.ActiveWorker() != "analyzing" {
		t.Error("forbidden handoff mutated control")
	}
	if len(store.HandoffLog()) != 0 {
		t.Error("forbidden handoff appended to the log")
	}
}

func TestDispatcherErrorPrecedence(t *testing.T) {
	t.Parallel()

	_, d := testDispatcher(t)

	// Unknown targets are a typo, not a policy violation.
	_, err := d.RequestHandoff("analyzing", "ghost", nil)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("unknown target: err = %v, want ErrInvalidTarget", err)
	}

	// An adjacent transfer from a worker without control is a timing race.
	_, err = d.RequestHandoff("data", "code", nil)
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("inactive requester: err = %v, want ErrNotActive", err)
	}
}

func TestDispatcherPermittedHandoff(t *testing.T) {
	t.Parallel()

	store, d := testDispatcher(t)
	rec, err := d.RequestHandoff("analyzing", "data", "payload")
	if err != nil {
		t.Fatalf("RequestHandoff: %v", err)
	}
	if rec.To != "data" {
		t.Errorf("record = %+v", rec)
	}
	if store.ActiveWorker() != "data" {
		t.Errorf("active = %q, want data", store.ActiveWorker())
	}
}
