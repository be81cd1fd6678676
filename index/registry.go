package index

import (
	"context"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/keyspace"
)

// StateRegistry persists each index's State as a single byte (spec
// §4.1 metadata keys, §4.3). Enable and MakeReadable read-then-write
// state within one transaction, serializing racing enablers; Disable
// writes without reading.
type StateRegistry struct {
	subspace keyspace.Subspace
}

// NewStateRegistry builds a registry rooted at subspace.
func NewStateRegistry(subspace keyspace.Subspace) *StateRegistry {
	return &StateRegistry{subspace: subspace}
}

// State returns the index's current state, defaulting to StateDisabled
// when the key is absent (spec §4.3 "state(name)").
func (r *StateRegistry) State(ctx context.Context, txn fdbkv.Transaction, name string) (State, error) {
	key := r.subspace.IndexStateKey(name)
	v, err := txn.Get(ctx, key, false)
	if err != nil {
		return StateDisabled, err
	}
	if len(v) == 0 {
		return StateDisabled, nil
	}
	return State(v[0]), nil
}

// States performs a batch read of several index names within the
// caller's single transaction (spec §4.3 "Batch states(names)").
func (r *StateRegistry) States(ctx context.Context, txn fdbkv.Transaction, names []string) (map[string]State, error) {
	out := make(map[string]State, len(names))
	for _, n := range names {
		s, err := r.State(ctx, txn, n)
		if err != nil {
			return nil, err
		}
		out[n] = s
	}
	return out, nil
}

func (r *StateRegistry) set(txn fdbkv.Transaction, name string, s State) {
	txn.Set(r.subspace.IndexStateKey(name), []byte{byte(s)})
}

// Enable transitions disabled -> write-only. Any other current state
// is fdberr.InvalidTransition.
func (r *StateRegistry) Enable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	return r.transition(ctx, txn, name, StateWriteOnly)
}

// MakeReadable transitions write-only -> readable. Any other current
// state is fdberr.InvalidTransition.
func (r *StateRegistry) MakeReadable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	return r.transition(ctx, txn, name, StateReadable)
}

// Disable unconditionally writes the disabled state (spec: "* -> disabled").
func (r *StateRegistry) Disable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	r.set(txn, name, StateDisabled)
	return nil
}

func (r *StateRegistry) transition(ctx context.Context, txn fdbkv.Transaction, name string, to State) error {
	cur, err := r.State(ctx, txn, name)
	if err != nil {
		return err
	}
	if !legalTransition(cur, to) {
		return fdberr.New(fdberr.InvalidTransition, name,
			"illegal transition from "+cur.String()+" to "+to.String())
	}
	r.set(txn, name, to)
	return nil
}
