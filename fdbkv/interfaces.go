// Package fdbkv declares the interfaces the record layer consumes from
// its physical FoundationDB client (spec §1, §6). Nothing in this
// package talks to a real FDB cluster; the concrete client and an
// in-memory emulation are both explicitly out of scope for the core
// (the latter lives only as test scaffolding, in package fdbtest).
package fdbkv

import "context"

// KeyValue is a single range-read result.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Selector names a key selector for range reads: exact key, or
// first-greater-or-equal / first-greater-than of a prefix, matching
// FDB's key-selector model closely enough for this core's needs
// (it never needs offset selectors).
type Selector struct {
	Key       []byte
	OrEqual   bool
	FirstGreater bool
}

// KeySelector returns a selector matching the given key exactly.
func KeySelector(key []byte) Selector { return Selector{Key: key, OrEqual: true} }

// FirstGreaterThan returns a selector for the first key strictly
// greater than key (used for exclusive range ends / prefix-strinc).
func FirstGreaterThan(key []byte) Selector { return Selector{Key: key, FirstGreater: true} }

// Transaction is the per-operation handle the core performs reads and
// writes against. All methods may be called against either a real FDB
// transaction or a test double.
type Transaction interface {
	Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error)
	// GetRange streams [begin, end). limit caps the number of key/value
	// pairs returned, matching FDB's own RangeOptions.Limit; 0 means
	// unlimited. Callers that need to respect the per-transaction
	// budget (spec §1/§5) must pass a real limit rather than reading an
	// unbounded range and truncating the result afterwards.
	GetRange(ctx context.Context, begin, end Selector, limit int, snapshot bool) (<-chan KeyValue, <-chan error)
	Set(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)
	AtomicAdd(key []byte, delta int64)
}

// Database runs fn inside a transaction, retrying on retriable errors
// (conflicts, transaction-too-old) per spec §4.6/§7.
type Database interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txn Transaction) (interface{}, error)) (interface{}, error)
}

// DirectoryLayer allocates and manages hierarchical path -> subspace
// prefixes (spec §6).
type DirectoryLayer interface {
	CreateOrOpen(ctx context.Context, txn Transaction, path []string) ([]byte, error)
	Create(ctx context.Context, txn Transaction, path []string, prefix []byte) ([]byte, error)
	Open(ctx context.Context, txn Transaction, path []string) ([]byte, error)
	Move(ctx context.Context, txn Transaction, oldPath, newPath []string) ([]byte, error)
	Remove(ctx context.Context, txn Transaction, path []string) error
	Exists(ctx context.Context, txn Transaction, path []string) (bool, error)
}
