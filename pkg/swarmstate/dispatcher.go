package swarmstate

// Adjacency declares which handoffs are permitted: each worker may transfer
// control only to the peers listed for it. The table is static for the life
// of a session.
type Adjacency map[WorkerID][]WorkerID

// Dispatcher is the policy layer above the Store. It rejects transfers that
// fall outside the declared adjacency before they reach the state store;
// everything else passes through unchanged. It holds no state beyond the
// frozen adjacency table.
type Dispatcher struct {
	store     *Store
	adjacency map[WorkerID]map[WorkerID]struct{}
}

// NewDispatcher builds a dispatcher over the store with a frozen copy of
// the adjacency table.
func NewDispatcher(store *Store, adjacency Adjacency) *Dispatcher {
	frozen := make(map[WorkerID]map[WorkerID]struct{}, len(adjacency))
	for from, peers := range adjacency {
		set := make(map[WorkerID]struct{}, len(peers))
		for _, to := range peers {
			set[to] = struct{}{}
		}
		frozen[from] = set
	}
	return &Dispatcher{store: store, adjacency: frozen}
}

// CanHandoff reports whether the adjacency table permits the transfer. Pure
// function of the table and the two endpoints.
func (d *Dispatcher) CanHandoff(from, to WorkerID) bool {
	peers, ok := d.adjacency[from]
	if !ok {
		return false
	}
	_, ok = peers[to]
	return ok
}

// RequestHandoff validates the transfer against the adjacency table and
// delegates to the store. Unknown targets fall through to the store so the
// caller sees ErrInvalidTarget rather than ErrForbidden; a known target
// outside the adjacency is rejected here with ErrForbidden before any state
// is touched.
func (d *Dispatcher) RequestHandoff(from, to WorkerID, context any) (HandoffRecord, error) {
	if d.store.IsWorker(to) && !d.CanHandoff(from, to) {
		return HandoffRecord{}, &HandoffError{From: from, To: to, Err: ErrForbidden}
	}
	return d.store.RequestHandoff(from, to, context)
}
