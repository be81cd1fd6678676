// Package build implements the OnlineBuilder of spec §4.7: resumable,
// batched population of a newly write-only index over a record type's
// existing data. Grounded on eth/stagedsync/stage_log_index.go's
// cursor-resumable, batched, time-ticked promotion loop
// (promoteLogIndex scans from a start cursor, flushing on a size/time
// tick rather than record-by-record).
package build

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/graphene-db/fdbrecord/fdblog"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/schema"
	"github.com/graphene-db/fdbrecord/store"
)

// DefaultBatchSize matches spec §4.7's "batch size (default 100)".
const DefaultBatchSize = 100

var progressGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fdbrecord",
	Subsystem: "build",
	Name:      "cursor_position_bytes",
	Help:      "Length in bytes of the OnlineBuilder's persisted resume cursor for an index, 0 once complete.",
}, []string{"index"})

func init() {
	prometheus.MustRegister(progressGauge)
}

// OnlineBuilder bulk-populates one index's entries over one entity
// type's existing records (spec §4.7 "OnlineBuilder contract").
type OnlineBuilder struct {
	db            fdbkv.Database
	typeName      string
	descriptor    index.Descriptor
	entity        schema.EntityDescriptor
	itemSubspace  keyspace.Subspace
	indexSubspace keyspace.Subspace
	registry      *index.StateRegistry
	batchSize     int
	maintainer    index.Maintainer
}

// Option configures an OnlineBuilder at construction.
type Option func(*OnlineBuilder)

// WithMaintainer overrides the maintainer MakeMaintainer would have
// selected for descriptor.Kind, for maintainers that need a
// custom BuildStrategy (spec §4.7 "If the maintainer supplies a
// custom build strategy").
func WithMaintainer(m index.Maintainer) Option {
	return func(b *OnlineBuilder) { b.maintainer = m }
}

// New builds an OnlineBuilder. itemSubspace is where the owning type's
// records live; indexSubspace is where the index's own entries (and
// its state/progress metadata keys) live — in the common case these
// are the same Subspace, but migrating across directories can split
// them (spec §4.7 "item subspace, index subspace").
func New(db fdbkv.Database, typeName string, descriptor index.Descriptor, entity schema.EntityDescriptor, itemSubspace, indexSubspace keyspace.Subspace, registry *index.StateRegistry, batchSize int, opts ...Option) *OnlineBuilder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	b := &OnlineBuilder{
		db:            db,
		typeName:      typeName,
		descriptor:    descriptor,
		entity:        entity,
		itemSubspace:  itemSubspace,
		indexSubspace: indexSubspace,
		registry:      registry,
		batchSize:     batchSize,
		maintainer:    index.MakeMaintainer(descriptor, indexSubspace),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build drives the resumable batch loop to completion, promoting the
// index to readable on success (spec §4.7: "On completion: clear the
// cursor and atomically transition write-only -> readable").
//
// If the maintainer implements index.BuildStrategy, the whole build is
// delegated to it instead (spec §4.7: "If the maintainer supplies a
// custom build strategy ... delegate the whole build to it").
func (b *OnlineBuilder) Build(ctx context.Context) error {
	log := fdblog.WithComponent("build").With().Str("index", b.descriptor.Name).Logger()

	if strategy, ok := b.maintainer.(index.BuildStrategy); ok {
		log.Info().Msg("delegating to custom build strategy")
		if err := strategy.Build(ctx, b.db); err != nil {
			return err
		}
		return b.promote(ctx)
	}

	s := store.New(b.itemSubspace)
	start := time.Now()
	batches := 0
	for {
		begin, end, err := b.cursorRange(ctx)
		if err != nil {
			return err
		}

		done, err := b.runBatch(ctx, s, begin, end)
		if err != nil {
			return err
		}
		batches++
		if batches%10 == 0 {
			log.Info().Int("batches", batches).Dur("elapsed", time.Since(start)).Msg("build progress")
		}
		if done {
			break
		}
	}

	log.Info().Int("batches", batches).Msg("build complete")
	return b.promote(ctx)
}

func (b *OnlineBuilder) cursorRange(ctx context.Context) (begin, end []byte, err error) {
	_, err = b.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		cursor, err := txn.Get(ctx, b.indexSubspace.BuildProgressKey(b.descriptor.Name), false)
		if err != nil {
			return nil, err
		}
		begin = cursor
		return nil, nil
	})
	_, itemEnd := b.itemSubspace.RecordRange(b.typeName)
	return begin, itemEnd, err
}

// runBatch scans up to batchSize records in a single fresh transaction,
// emits the index entry for each, advances the persisted cursor, and
// reports whether the type's record range is exhausted (spec §4.7
// step loop: "scan up to batch_size record keys starting from the
// cursor ... update the cursor; commit").
//
// The range read itself is capped at batchSize (store.ScanFrom's
// limit), so a type with far more records than one batch never has its
// full remaining range materialized inside a single transaction. Within
// the fetched batch, processing additionally stops early — short of
// batchSize records — the moment accumulated payload size or elapsed
// time crosses store.MaxTransactionSize / store.MaxTransactionTime,
// committing what was processed so far and resuming from there on the
// next call (spec §1/§5: "FDB's 5-second / 10 MB per-transaction
// budget").
func (b *OnlineBuilder) runBatch(ctx context.Context, s *store.Store, begin, end []byte) (done bool, err error) {
	_, err = b.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		start := time.Now()
		recs, err := s.ScanFrom(ctx, txn, b.typeName, begin, end, false, b.batchSize)
		if err != nil {
			return nil, err
		}

		var processed int
		var bytesRead datasize.ByteSize
		for _, r := range recs {
			if processed > 0 &&
				(bytesRead > store.MaxTransactionSize || time.Since(start) > store.MaxTransactionTime) {
				break
			}
			record, err := b.entity.DecodeRecord(r.Payload)
			if err != nil {
				return nil, err
			}
			eval := b.entity.Evaluator(record)
			if err := b.maintainer.Scan(ctx, txn, r.ID, eval); err != nil {
				return nil, err
			}
			bytesRead += datasize.ByteSize(len(r.Payload))
			processed++
		}

		if processed == len(recs) && len(recs) < b.batchSize {
			done = true
			txn.Clear(b.indexSubspace.BuildProgressKey(b.descriptor.Name))
			progressGauge.WithLabelValues(b.descriptor.Name).Set(0)
			return nil, nil
		}

		cursor := keyspace.StrInc(b.itemSubspace.RecordKey(b.typeName, recs[processed-1].ID))
		txn.Set(b.indexSubspace.BuildProgressKey(b.descriptor.Name), cursor)
		progressGauge.WithLabelValues(b.descriptor.Name).Set(float64(len(cursor)))
		return nil, nil
	})
	return done, err
}

func (b *OnlineBuilder) promote(ctx context.Context) error {
	_, err := b.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		return nil, b.registry.MakeReadable(ctx, txn, b.descriptor.Name)
	})
	return err
}
