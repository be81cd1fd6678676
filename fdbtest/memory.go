// Package fdbtest provides an in-memory double of fdbkv's Database,
// Transaction, and DirectoryLayer interfaces for use in _test.go files
// across this module. It is deliberately not a full FDB emulator (the
// core's spec explicitly excludes in-memory emulation of FDB as a
// deliverable) — it is just enough ordered-map plumbing, with a
// one-shot ConflictOnKeys set to simulate conflicts for tests that need
// them, grounded on ethdb.NewMemDatabase's in-memory-handle idea.
package fdbtest

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdbkv"
)

// MemoryDatabase is a single in-process, mutex-guarded ordered key
// value store.
type MemoryDatabase struct {
	mu   sync.Mutex
	data map[string][]byte

	// ConflictOnKeys, if non-empty, causes the NEXT WithTransaction
	// call whose write set intersects this set to fail with
	// fdberr.TransactionConflict instead of committing (used to drive
	// seed scenario 3: an FDB conflict on the second key).
	ConflictOnKeys map[string]bool
}

// NewMemoryDatabase returns an empty store.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{data: make(map[string][]byte)}
}

func (d *MemoryDatabase) WithTransaction(ctx context.Context, fn func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error)) (interface{}, error) {
	d.mu.Lock()
	txn := &memoryTransaction{db: d}
	d.mu.Unlock()

	result, err := fn(ctx, txn)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for k := range txn.writes {
		if d.ConflictOnKeys[k] {
			d.ConflictOnKeys = nil
			return nil, fdberr.New(fdberr.TransactionConflict, "", "simulated conflict")
		}
	}
	for k, v := range txn.writes {
		if v == nil {
			delete(d.data, k)
		} else {
			d.data[k] = v
		}
	}
	for _, r := range txn.clearRanges {
		d.clearRangeLocked(r.begin, r.end)
	}
	return result, nil
}

func (d *MemoryDatabase) clearRangeLocked(begin, end string) {
	for k := range d.data {
		if k >= begin && (end == "" || k < end) {
			delete(d.data, k)
		}
	}
}

// Snapshot returns a copy of every key/value currently committed,
// for test assertions.
func (d *MemoryDatabase) Snapshot() map[string][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]byte, len(d.data))
	for k, v := range d.data {
		out[k] = append([]byte{}, v...)
	}
	return out
}

type rangeMarker struct {
	begin, end string
}

type memoryTransaction struct {
	db          *MemoryDatabase
	writes      map[string][]byte
	clearRanges []rangeMarker
}

func (t *memoryTransaction) ensureWrites() {
	if t.writes == nil {
		t.writes = make(map[string][]byte)
	}
}

func (t *memoryTransaction) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		if v == nil {
			return nil, nil
		}
		return append([]byte{}, v...), nil
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	v, ok := t.db.data[k]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

// GetRange honors limit by stopping after the first limit keys in
// range order (limit <= 0 means unlimited), so a caller asking for a
// bounded batch never sees more than it asked for.
func (t *memoryTransaction) GetRange(ctx context.Context, begin, end fdbkv.Selector, limit int, snapshot bool) (<-chan fdbkv.KeyValue, <-chan error) {
	out := make(chan fdbkv.KeyValue)
	errc := make(chan error, 1)

	t.db.mu.Lock()
	merged := make(map[string][]byte, len(t.db.data))
	for k, v := range t.db.data {
		merged[k] = v
	}
	t.db.mu.Unlock()
	for k, v := range t.writes {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	beginKey := string(begin.Key)
	endKey := string(end.Key)

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if k < beginKey {
			continue
		}
		if endKey != "" && k >= endKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	go func() {
		defer close(out)
		defer close(errc)
		for _, k := range keys {
			out <- fdbkv.KeyValue{Key: []byte(k), Value: append([]byte{}, merged[k]...)}
		}
	}()
	return out, errc
}

func (t *memoryTransaction) Set(key, value []byte) {
	t.ensureWrites()
	t.writes[string(key)] = append([]byte{}, value...)
}

func (t *memoryTransaction) Clear(key []byte) {
	t.ensureWrites()
	t.writes[string(key)] = nil
}

func (t *memoryTransaction) ClearRange(begin, end []byte) {
	t.clearRanges = append(t.clearRanges, rangeMarker{begin: string(begin), end: string(end)})
}

func (t *memoryTransaction) AtomicAdd(key []byte, delta int64) {
	t.ensureWrites()
	k := string(key)
	cur, _ := t.Get(context.Background(), key, false)
	var n int64
	if len(cur) == 8 {
		n = decodeLE(cur)
	}
	n += delta
	t.writes[k] = encodeLE(n)
}

func encodeLE(n int64) []byte {
	b := make([]byte, 8)
	u := uint64(n)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}

func decodeLE(b []byte) int64 {
	var u uint64
	for i := 0; i < 8 && i < len(b); i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u)
}

// MemoryDirectory is a trivial DirectoryLayer double: every path maps
// deterministically to a prefix derived from the joined path, with no
// real allocation/collision tracking beyond a process-local map.
type MemoryDirectory struct {
	mu    sync.Mutex
	paths map[string][]byte
	next  byte
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{paths: make(map[string][]byte)}
}

func (d *MemoryDirectory) key(path []string) string { return strings.Join(path, "/") }

func (d *MemoryDirectory) CreateOrOpen(ctx context.Context, txn fdbkv.Transaction, path []string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(path)
	if p, ok := d.paths[k]; ok {
		return p, nil
	}
	d.next++
	p := []byte{0xFD, d.next}
	d.paths[k] = p
	return p, nil
}

func (d *MemoryDirectory) Create(ctx context.Context, txn fdbkv.Transaction, path []string, prefix []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(path)
	if _, ok := d.paths[k]; ok {
		return nil, fdberr.New(fdberr.InvalidArgument, k, "directory already exists")
	}
	if prefix == nil {
		d.next++
		prefix = []byte{0xFD, d.next}
	}
	d.paths[k] = prefix
	return prefix, nil
}

func (d *MemoryDirectory) Open(ctx context.Context, txn fdbkv.Transaction, path []string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(path)
	p, ok := d.paths[k]
	if !ok {
		return nil, fdberr.New(fdberr.NotFound, k, "directory not found")
	}
	return p, nil
}

func (d *MemoryDirectory) Move(ctx context.Context, txn fdbkv.Transaction, oldPath, newPath []string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := d.key(oldPath)
	nk := d.key(newPath)
	p, exists := d.paths[ok]
	if !exists {
		return nil, fdberr.New(fdberr.NotFound, ok, "directory not found")
	}
	delete(d.paths, ok)
	d.paths[nk] = p
	return p, nil
}

func (d *MemoryDirectory) Remove(ctx context.Context, txn fdbkv.Transaction, path []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.paths, d.key(path))
	return nil
}

func (d *MemoryDirectory) Exists(ctx context.Context, txn fdbkv.Transaction, path []string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.paths[d.key(path)]
	return ok, nil
}

var _ fdbkv.Database = (*MemoryDatabase)(nil)
var _ fdbkv.Transaction = (*memoryTransaction)(nil)
var _ fdbkv.DirectoryLayer = (*MemoryDirectory)(nil)

// bytesEqual is a small helper kept for callers constructing selectors
// from raw prefixes in tests.
func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
