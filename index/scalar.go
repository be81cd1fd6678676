package index

import (
	"context"

	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/keyspace"
)

// scalarMaintainer implements the default "presence" index kind: one
// key per (values..., id), empty value (spec §4.1 "Index key...;
// value is empty bytes (presence = entry)").
type scalarMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
}

func (m *scalarMaintainer) key(values keyspace.Tuple, id keyspace.Tuple) []byte {
	return m.subspace.IndexKey(m.descriptor.subspaceKey(), values, id)
}

func (m *scalarMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
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
		txn.Set(m.key(values, id), []byte{})
	}
	return nil
}

func (m *scalarMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	txn.Set(m.key(values, id), []byte{})
	return nil
}

// uniqueScalarMaintainer implements the unique-scalar index kind: the
// key omits the id (it IS the unique value), the value is the packed
// id (spec §4.1 "Unique scalar index key").
type uniqueScalarMaintainer struct {
	descriptor Descriptor
	subspace   keyspace.Subspace
	expr       KeyExpression
}

func (m *uniqueScalarMaintainer) key(values keyspace.Tuple) []byte {
	return m.subspace.UniqueIndexKey(m.descriptor.subspaceKey(), values)
}

func (m *uniqueScalarMaintainer) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error {
	if old != nil {
		values, err := m.expr.Eval(old)
		if err != nil {
			return err
		}
		txn.Clear(m.key(values))
	}
	if new != nil {
		values, err := m.expr.Eval(new)
		if err != nil {
			return err
		}
		txn.Set(m.key(values), id.Pack())
	}
	return nil
}

func (m *uniqueScalarMaintainer) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error {
	values, err := m.expr.Eval(record)
	if err != nil {
		return err
	}
	txn.Set(m.key(values), id.Pack())
	return nil
}
