// Package migrations implements the MigrationEngine of spec §4.7:
// path resolution over a chain of schema versions, and execution of
// lightweight (pure index diff) and custom (diff sandwiched between
// will_migrate/did_migrate hooks) stages. Grounded directly on
// migrations/migrations.go's Migrator.Apply — an ordered list of named,
// idempotent steps applied against an applied-set tracked in a bucket —
// generalized from a flat unordered list to a versioned chain walk, and
// on eth/stagedsync/stage_log_index.go for the index-build delegation.
package migrations

import (
	"github.com/graphene-db/fdbrecord/schema"
)

// Kind names whether a Stage's effects are pure index diff, or also
// carry custom pre/post hooks (spec §4.7 "Stage kinds").
type Kind int

const (
	// Lightweight stages only add/remove indexes as a function of the
	// diff between the from/to schemas; field additions require no data
	// migration (defaults).
	Lightweight Kind = iota
	// Custom stages run the same add/remove effects, sandwiched between
	// optional WillMigrate/DidMigrate hooks.
	Custom
)

// Stage is one step in a migration chain (spec §4.7, glossary
// "Stage"). From/To must match the versions of two schemas supplied to
// the Engine, adjacent in its ordered schema list.
type Stage struct {
	Name string
	From schema.Version
	To   schema.Version
	Kind Kind

	// WillMigrate/DidMigrate run before/after the add/remove index
	// effects, only for Kind == Custom (spec §4.7 step 2 and step 5).
	WillMigrate func(mctx *MigrationContext) error
	DidMigrate  func(mctx *MigrationContext) error
}
