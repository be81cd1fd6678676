package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/keyspace"
)

// countMaintainer keeps one running integer per grouping prefix,
// incremented/decremented via the transaction's little-endian 64-bit
// atomic add (spec §4.1 "Aggregation (count, sum)").
type countMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
}

func (m *countMaintainer) key(values keyspace.Tuple) []byte {
	return m.subspace.UniqueIndexKey(m.descriptor.subspaceKey(), values)
}

func (m *countMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
	if old != nil {
		values, err := m.expr.Eval(old)
		if err != nil {
			return err
		}
		txn.AtomicAdd(m.key(values), -1)
	}
	if new != nil {
		values, err := m.expr.Eval(new)
		if err != nil {
			return err
		}
		txn.AtomicAdd(m.key(values), 1)
	}
	return nil
}

func (m *countMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	txn.AtomicAdd(m.key(values), 1)
	return nil
}

// sumMaintainer accumulates Kind.ValueField's numeric value per
// grouping prefix, via atomic add of the delta between old and new
// (or, when an update moves a record between groups, of -old to the
// old group and +new to the new group).
type sumMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
}

func (m *sumMaintainer) key(values keyspace.Tuple) []byte {
	return m.subspace.UniqueIndexKey(m.descriptor.subspaceKey(), values)
}

func numericValue(eval Evaluator, field string) (int64, error) {
	v, err := eval(field)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, nil
	}
}

func (m *sumMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
	var oldVal, newVal int64
	var oldKey, newKey []byte
	if old != nil {
		v, err := m.expr.Eval(old)
		if err != nil {
			return err
		}
		oldKey = m.key(v)
		oldVal, err = numericValue(old, m.descriptor.Kind.ValueField)
		if err != nil {
			return err
		}
	}
	if new != nil {
		v, err := m.expr.Eval(new)
		if err != nil {
			return err
		}
		newKey = m.key(v)
		newVal, err = numericValue(new, m.descriptor.Kind.ValueField)
		if err != nil {
			return err
		}
	}
	if oldKey != nil && newKey != nil && !bytes.Equal(oldKey, newKey) {
		// The record moved to another group: take its old value out of
		// the old group and add its new value to the new one.
		if oldVal != 0 {
			txn.AtomicAdd(oldKey, -oldVal)
		}
		if newVal != 0 {
			txn.AtomicAdd(newKey, newVal)
		}
		return nil
	}
	key := newKey
	if key == nil {
		key = oldKey
	}
	delta := newVal - oldVal
	if delta != 0 {
		txn.AtomicAdd(key, delta)
	}
	return nil
}

func (m *sumMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	val, err := numericValue(record, m.descriptor.Kind.ValueField)
	if err != nil {
		return err
	}
	if val != 0 {
		txn.AtomicAdd(m.key(values), val)
	}
	return nil
}

// extremeMaintainer tracks the min or max of Kind.ValueField per
// grouping prefix (spec §4.1 "Min/Max: keys holding the current
// extreme value with version stamps to tolerate late readers"). This
// implementation tracks the extreme on insert/scan via read-compare-
// write within the caller's transaction; a delete of the record
// currently holding the extreme does not trigger a full rescan (doing
// so would require visiting every sibling of the group, which spec
// §4.7's per-stage/per-transaction budget rules out as an inline
// Update side effect) — the stored extreme keeps the deleted record's
// value, and a later insert/scan replaces it only with a more extreme
// value. An update that makes a value less extreme likewise leaves the
// stored extreme unchanged.
type extremeMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
	wantMax    bool
}

func (m *extremeMaintainer) key(values keyspace.Tuple) []byte {
	return m.subspace.UniqueIndexKey(m.descriptor.subspaceKey(), values)
}

func encodeExtreme(val int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(val)^(1<<63))
	return b[:]
}

func decodeExtreme(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func (m *extremeMaintainer) apply(ctx context.Context, txn fdbkv.Transaction, values keyspace.Tuple, val int64) error {
	key := m.key(values)
	cur, err := txn.Get(ctx, key, false)
	if err != nil {
		return err
	}
	if cur == nil {
		txn.Set(key, encodeExtreme(val))
		return nil
	}
	curVal := decodeExtreme(cur)
	better := val > curVal
	if !m.wantMax {
		better = val < curVal
	}
	if better {
		txn.Set(key, encodeExtreme(val))
	}
	return nil
}

func (m *extremeMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
	if new == nil {
		return nil
	}
	values, err := m.expr.Eval(new)
	if err != nil {
		return err
	}
	val, err := numericValue(new, m.descriptor.Kind.ValueField)
	if err != nil {
		return err
	}
	return m.apply(ctx, txn, values, val)
}

func (m *extremeMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	val, err := numericValue(record, m.descriptor.Kind.ValueField)
	if err != nil {
		return err
	}
	return m.apply(ctx, txn, values, val)
}

// versionMaintainer stores, per (values, id), the version stamp
// assigned at maintenance time (spec §4.1 "Version index: key encodes
// an FDB 80-bit version stamp"). The real FDB client assigns the
// stamp at commit; since the transaction primitive this core consumes
// does not expose a pre-commit stamp, the maintainer calls a supplied
// Clock to approximate it — real deployments wire this to FDB's
// versionstamped-value atomic op instead of a plain Set.
type versionMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
	Clock      func() keyspace.VersionStamp
}

func (m *versionMaintainer) clock() keyspace.VersionStamp {
	if m.Clock != nil {
		return m.Clock()
	}
	return keyspace.NewVersionStamp(uint64(monotonic.next()), 0)
}

func (m *versionMaintainer) key(values, id keyspace.Tuple) []byte {
	return m.subspace.IndexKey(m.descriptor.subspaceKey(), values, id)
}

func (m *versionMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
	if old != nil {
		values, err := m.expr.Eval(old)
		if err != nil {
			return err
		}
		txn.Clear(m.key(values, id))
	}
	if new != nil {
		values, err := m.expr.Eval(new)
		if err != nil {
			return err
		}
		txn.Set(m.key(values, id), m.clock().Bytes())
	}
	return nil
}

func (m *versionMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	txn.Set(m.key(values, id), m.clock().Bytes())
	return nil
}

// monotonic is a process-local fallback clock used only when a
// versionMaintainer has no injected Clock.
var monotonic = &monotonicCounter{}

type monotonicCounter struct {
	n int64
}

func (c *monotonicCounter) next() int64 {
	return atomic.AddInt64(&c.n, 1)
}
