package realtime

import (
	"sync"

	"lead-ledger/internal/core/domain"
)

// Replica is a local copy of one table built from change events. Applying the
// same event twice leaves it unchanged, and rows carrying a version never move
// back to an older one.
type Replica struct {
	table string

	mu    sync.RWMutex
	rows  map[string]map[string]any
	order []string
}

func NewReplica(table string) *Replica {
	return &Replica{table: table, rows: make(map[string]map[string]any)}
}

// Apply merges event into the replica and reports whether it was accepted.
// Events for other tables, without a record id, or older than the stored row
// are ignored.
func (r *Replica) Apply(event domain.ChangeEvent) bool {
	if event.Table != r.table {
		return false
	}
	id := event.RecordID()
	if id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Operation {
	case domain.OperationDelete:
		if _, ok := r.rows[id]; !ok {
			return true
		}
		delete(r.rows, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	case domain.OperationInsert, domain.OperationUpdate:
		current, ok := r.rows[id]
		if !ok {
			r.order = append(r.order, id)
		} else if stale(current, event) {
			return false
		}
		r.rows[id] = event.Record
	default:
		return false
	}
	return true
}

func stale(current map[string]any, event domain.ChangeEvent) bool {
	have, ok := domain.ChangeEvent{Record: current}.RecordVersion()
	if !ok {
		return false
	}
	got, ok := event.RecordVersion()
	return ok && got < have
}

// Handler returns a subscription handler feeding the replica.
func (r *Replica) Handler() Handler {
	return func(event domain.ChangeEvent) {
		r.Apply(event)
	}
}

func (r *Replica) Get(id string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	return row, ok
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// Rows returns the records in first-seen order.
func (r *Replica) Rows() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rows[id])
	}
	return out
}
