// Package store implements the stateless CRUD facade of spec §4.2:
// save/load/delete/scan/clear for a (type, id) pair given an explicit
// transaction. Grounded on ethdb's Put/Get/Walk/Delete shape
// (ethdb/memory_database.go and the cursor-driven Walk loops in
// eth/stagedsync/stage_log_index.go), adapted from a bucket-keyed KV
// facade to the record-layer's subspace-keyed one.
package store

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/keyspace"
)

// MaxTransactionSize and MaxTransactionTime mirror FDB's hard
// per-transaction limits (spec
// §5 "FDB's 5-second / 10 MB per-transaction budget"); OnlineBuilder
// and the migration engine check against these when deciding whether
// to commit early and reopen a fresh transaction.
const (
	MaxTransactionSize = 10 * datasize.MB
	MaxTransactionTime = 5 * time.Second
)

// Record pairs a decoded id with its opaque payload, as yielded by Scan.
type Record struct {
	ID      keyspace.Tuple
	Payload []byte
}

// Store is a stateless facade owning only a subspace; the database
// handle lives on the caller's transaction (spec §4.2: "owning only a
// database handle and a subspace").
type Store struct {
	subspace keyspace.Subspace
}

// New builds a Store rooted at subspace.
func New(subspace keyspace.Subspace) *Store {
	return &Store{subspace: subspace}
}

// Save writes the record key. No read (spec §4.2 "save: writes the
// record key. No read.").
func (s *Store) Save(txn fdbkv.Transaction, typeName string, id keyspace.Tuple, payload []byte) {
	txn.Set(s.subspace.RecordKey(typeName, id), payload)
}

// Load performs a single-key read, returning nil if absent (spec
// §4.2 "load: single-key read").
func (s *Store) Load(ctx context.Context, txn fdbkv.Transaction, typeName string, id keyspace.Tuple, snapshot bool) ([]byte, error) {
	return txn.Get(ctx, s.subspace.RecordKey(typeName, id), snapshot)
}

// Delete clears the record key only; callers must sequence index
// maintenance themselves (spec §4.2 "delete: ... Does not touch
// indexes").
func (s *Store) Delete(txn fdbkv.Transaction, typeName string, id keyspace.Tuple) {
	txn.Clear(s.subspace.RecordKey(typeName, id))
}

// Clear clear-ranges the entire type subspace (spec §4.2 "clear").
func (s *Store) Clear(txn fdbkv.Transaction, typeName string) {
	begin, end := s.subspace.RecordRange(typeName)
	txn.ClearRange(begin, end)
}

// Scan ranges in key order over typeName's subspace, decoding each
// key's trailing id tuple and yielding (id, payload) pairs; snapshot
// reads by default (spec §4.2 "scan: ... snapshot reads by default").
// Unbounded: callers that must respect the per-transaction budget
// (spec §1/§5) should call ScanFrom directly with a real limit.
func (s *Store) Scan(ctx context.Context, txn fdbkv.Transaction, typeName string, snapshot bool) ([]Record, error) {
	begin, end := s.subspace.RecordRange(typeName)
	return s.ScanFrom(ctx, txn, typeName, begin, end, snapshot, 0)
}

// ScanFrom is the cursor-capable primitive behind Scan; OnlineBuilder
// and the migration engine's Enumerate both resume a batched scan by
// passing the key just past the previous batch's last record
// (keyspace.StrInc of its record key) as begin, which is inclusive (Supplemented
// Features: "Store.ScanFrom predicate/cursor scan"). limit is passed
// straight through to the underlying GetRange so the range read itself
// stops at batch_size keys instead of materializing every remaining
// record and truncating in Go afterwards (spec §1/§4.7: "scan up to
// batch_size record keys"); 0 means unlimited.
func (s *Store) ScanFrom(ctx context.Context, txn fdbkv.Transaction, typeName string, begin, end []byte, snapshot bool, limit int) ([]Record, error) {
	prefix, prefixEnd := s.subspace.RecordRange(typeName)
	if begin == nil || string(begin) < string(prefix) {
		begin = prefix
	}
	if end == nil || string(end) > string(prefixEnd) {
		end = prefixEnd
	}

	kvs, errc := txn.GetRange(ctx, fdbkv.KeySelector(begin), fdbkv.FirstGreaterThan(end), limit, snapshot)

	var out []Record
	for kv := range kvs {
		id, err := recordIDFromKey(s.subspace, typeName, kv.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{ID: id, Payload: kv.Value})
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return out, nil
}

func recordIDFromKey(sub keyspace.Subspace, typeName string, key []byte) (keyspace.Tuple, error) {
	prefix, _ := sub.RecordRange(typeName)
	rest := key[len(prefix):]
	return keyspace.Unpack(rest)
}
