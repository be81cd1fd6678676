package migrations

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/store"
)

// Item pairs a decoded id with its record, used by BatchUpdate.
type Item struct {
	ID     keyspace.Tuple
	Record interface{}
}

// Enumerate yields every record of typeName in batches, each batch
// scanned in a fresh transaction using the last-seen key as a cursor
// (spec §4.7: "enumerate(type, batch_size) yields all records of a
// type by iterating in batches, each batch is a fresh transaction
// using the last-seen key as a cursor"). Stops and returns fn's error
// the first time it returns one.
//
// The range read is capped at batchSize (store.ScanFrom's limit), so a
// type with far more records than one batch is never fully
// materialized inside a single transaction. Within a fetched batch,
// fn-calling additionally stops early — short of batchSize records —
// once accumulated payload size or elapsed time crosses
// store.MaxTransactionSize / store.MaxTransactionTime, resuming from
// the last record actually passed to fn on the next transaction
// (spec §1/§5: "FDB's 5-second / 10 MB per-transaction budget").
func (m *MigrationContext) Enumerate(ctx context.Context, typeName string, batchSize int, fn func(id keyspace.Tuple, record interface{}) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	entity, ok := m.Schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	s := store.New(m.subspace)
	_, rangeEnd := m.subspace.RecordRange(typeName)

	var cursor []byte
	for {
		var batch []store.Record
		var processed int
		_, err := m.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
			start := time.Now()
			recs, err := s.ScanFrom(ctx, txn, typeName, cursor, rangeEnd, false, batchSize)
			if err != nil {
				return nil, err
			}
			batch = recs

			var bytesRead datasize.ByteSize
			for _, r := range batch {
				if processed > 0 &&
					(bytesRead > store.MaxTransactionSize || time.Since(start) > store.MaxTransactionTime) {
					break
				}
				record, err := entity.DecodeRecord(r.Payload)
				if err != nil {
					return nil, err
				}
				if err := fn(r.ID, record); err != nil {
					return nil, err
				}
				bytesRead += datasize.ByteSize(len(r.Payload))
				processed++
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
		if processed == len(batch) && len(batch) < batchSize {
			return nil
		}
		cursor = keyspace.StrInc(m.subspace.RecordKey(typeName, batch[processed-1].ID))
	}
}

// Count returns the number of persisted records of typeName, scanning
// in chunks to respect the per-transaction budget rather than ranging
// the whole type in one read (spec §4.7 "count(type)").
func (m *MigrationContext) Count(ctx context.Context, typeName string) (int64, error) {
	var n int64
	err := m.Enumerate(ctx, typeName, 500, func(keyspace.Tuple, interface{}) error {
		n++
		return nil
	})
	return n, err
}

// Update applies a point mutation to one record within a fresh
// transaction, maintaining every index on typeName whose state is at
// least write-only (spec §4.7 "update(record)"). old==nil (record
// didn't previously exist) is treated as an insert.
func (m *MigrationContext) Update(ctx context.Context, typeName string, id keyspace.Tuple, record interface{}) error {
	entity, ok := m.Schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	payload, err := entity.Codec.Encode(record)
	if err != nil {
		return err
	}
	s := store.New(m.subspace)

	_, err = m.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		existing, err := s.Load(ctx, txn, typeName, id, false)
		if err != nil {
			return nil, err
		}
		var oldEval index.Evaluator
		if existing != nil {
			oldRecord, err := entity.DecodeRecord(existing)
			if err != nil {
				return nil, err
			}
			oldEval = entity.Evaluator(oldRecord)
		}
		newEval := entity.Evaluator(record)
		if err := m.maintainIndexes(ctx, txn, typeName, id, oldEval, newEval); err != nil {
			return nil, err
		}
		s.Save(txn, typeName, id, payload)
		return nil, nil
	})
	return err
}

// Delete removes one record within a fresh transaction, maintaining
// every maintained index (spec §4.7 "delete(record)"). A no-op if the
// record doesn't currently exist.
func (m *MigrationContext) Delete(ctx context.Context, typeName string, id keyspace.Tuple) error {
	entity, ok := m.Schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	s := store.New(m.subspace)

	_, err := m.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		existing, err := s.Load(ctx, txn, typeName, id, false)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
		oldRecord, err := entity.DecodeRecord(existing)
		if err != nil {
			return nil, err
		}
		oldEval := entity.Evaluator(oldRecord)
		if err := m.maintainIndexes(ctx, txn, typeName, id, oldEval, nil); err != nil {
			return nil, err
		}
		s.Delete(txn, typeName, id)
		return nil, nil
	})
	return err
}

// BatchUpdate applies Update for every item, chunked into batchSize-
// sized transactions (spec §4.7 "batch_update(records, batch_size)").
func (m *MigrationContext) BatchUpdate(ctx context.Context, typeName string, items []Item, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	entity, ok := m.Schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	s := store.New(m.subspace)

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		_, err := m.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
			for _, it := range chunk {
				payload, err := entity.Codec.Encode(it.Record)
				if err != nil {
					return nil, err
				}
				existing, err := s.Load(ctx, txn, typeName, it.ID, false)
				if err != nil {
					return nil, err
				}
				var oldEval index.Evaluator
				if existing != nil {
					oldRecord, err := entity.DecodeRecord(existing)
					if err != nil {
						return nil, err
					}
					oldEval = entity.Evaluator(oldRecord)
				}
				newEval := entity.Evaluator(it.Record)
				if err := m.maintainIndexes(ctx, txn, typeName, it.ID, oldEval, newEval); err != nil {
					return nil, err
				}
				s.Save(txn, typeName, it.ID, payload)
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// BatchDelete applies Delete for every id, chunked into batchSize-sized
// transactions (spec §4.7 "batch_delete(records, batch_size)").
func (m *MigrationContext) BatchDelete(ctx context.Context, typeName string, ids []keyspace.Tuple, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	entity, ok := m.Schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	s := store.New(m.subspace)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		_, err := m.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
			for _, id := range chunk {
				existing, err := s.Load(ctx, txn, typeName, id, false)
				if err != nil {
					return nil, err
				}
				if existing == nil {
					continue
				}
				oldRecord, err := entity.DecodeRecord(existing)
				if err != nil {
					return nil, err
				}
				oldEval := entity.Evaluator(oldRecord)
				if err := m.maintainIndexes(ctx, txn, typeName, id, oldEval, nil); err != nil {
					return nil, err
				}
				s.Delete(txn, typeName, id)
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// maintainIndexes mirrors recordctx.Context's index-maintenance step
// (spec §4.5/§4.7: index entries must observe the before/after images
// of every point mutation, inside the caller's transaction).
func (m *MigrationContext) maintainIndexes(ctx context.Context, txn fdbkv.Transaction, typeName string, id keyspace.Tuple, oldEval, newEval index.Evaluator) error {
	descriptors := m.manager.ForType(typeName)
	if len(descriptors) == 0 {
		return nil
	}
	registry := index.NewStateRegistry(m.subspace)
	for _, d := range descriptors {
		state, err := registry.State(ctx, txn, d.Name)
		if err != nil {
			return err
		}
		if state == index.StateDisabled {
			continue
		}
		maintainer := index.MakeMaintainer(d, m.subspace)
		if err := maintainer.Update(ctx, txn, id, oldEval, newEval); err != nil {
			return err
		}
	}
	return nil
}
