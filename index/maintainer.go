package index

import (
	"context"

	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/keyspace"
)

// Maintainer is the consumed index-maintenance protocol (spec §4.7
// "Index maintainer protocol"): Update for point mutations, Scan for
// bulk population by the OnlineBuilder.
type Maintainer interface {
	// Update handles a point mutation within the caller's transaction.
	// old == nil means insert; new == nil means delete; both present
	// means update. Failure aborts the surrounding save/migration step
	// (spec §4.7 "Failure semantics").
	Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new Evaluator) error
	// Scan emits the index entry for one record during bulk population.
	Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record Evaluator) error
}

// BuildStrategy is the optional custom bulk-build hook a maintainer
// may supply instead of being driven record-by-record through Scan
// (spec §4.7 "If the maintainer supplies a custom build strategy").
// Implementations are still required to respect FDB's per-transaction
// budget internally.
type BuildStrategy interface {
	Build(ctx context.Context, db fdbkv.Database) error
}

// MakeMaintainer is the kind -> maintainer bridge (spec §9 "a
// trait/interface (kind.make_maintainer...) implemented per kind by
// the indexes package").
func MakeMaintainer(d Descriptor, subspace keyspace.Subspace) Maintainer {
	expr := d.KeyExpression()
	switch d.Kind.Tag {
	case KindUniqueScalar:
		return &uniqueScalarMaintainer{descriptor: d, subspace: subspace, expr: expr}
	case KindCount:
		return &countMaintainer{descriptor: d, subspace: subspace, expr: expr}
	case KindSum:
		return &sumMaintainer{descriptor: d, subspace: subspace, expr: expr}
	case KindMin:
		return &extremeMaintainer{descriptor: d, subspace: subspace, expr: expr, wantMax: false}
	case KindMax:
		return &extremeMaintainer{descriptor: d, subspace: subspace, expr: expr, wantMax: true}
	case KindVersion:
		return &versionMaintainer{descriptor: d, subspace: subspace, expr: expr}
	case KindBitmap:
		return &bitmapMaintainer{descriptor: d, subspace: subspace, expr: expr}
	case KindScalar:
		fallthrough
	default:
		return &scalarMaintainer{descriptor: d, subspace: subspace, expr: expr}
	}
}
