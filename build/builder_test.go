package build

import (
	"context"
	"fmt"
	"testing"

	"github.com/graphene-db/fdbrecord/codec"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/fdbtest"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/schema"
	"github.com/graphene-db/fdbrecord/store"
)

type buildUser struct {
	ID    string
	Email string
}

func buildUserExtractor(record interface{}, field string) (interface{}, error) {
	u := record.(buildUser)
	switch field {
	case "id":
		return u.ID, nil
	case "email":
		return u.Email, nil
	}
	return nil, nil
}

func buildUserEntity() schema.EntityDescriptor {
	return schema.EntityDescriptor{
		TypeName:  "User",
		Fields:    []string{"id", "email"},
		Extractor: buildUserExtractor,
		Codec:     codec.NewCBORCodec(),
		New:       func() interface{} { return new(buildUser) },
	}
}

func seedUsers(t *testing.T, db fdbkv.Database, sub keyspace.Subspace, entity schema.EntityDescriptor, n int) []buildUser {
	t.Helper()
	s := store.New(sub)
	users := make([]buildUser, n)
	_, err := db.WithTransaction(context.Background(), func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		for i := 0; i < n; i++ {
			u := buildUser{ID: fmt.Sprintf("u%03d", i), Email: fmt.Sprintf("u%03d@x.com", i)}
			users[i] = u
			payload, err := entity.Codec.Encode(u)
			if err != nil {
				return nil, err
			}
			s.Save(txn, "User", keyspace.Tuple{u.ID}, payload)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return users
}

func assertIndexed(t *testing.T, snap map[string][]byte, sub keyspace.Subspace, users []buildUser) {
	t.Helper()
	for _, u := range users {
		key := sub.IndexKey("by_email", keyspace.Tuple{u.Email}, keyspace.Tuple{u.ID})
		if _, ok := snap[string(key)]; !ok {
			t.Fatalf("missing index entry for %+v", u)
		}
	}
}

// TestBuildMultiBatchCompletesAndIndexesEverything drives spec §4.7's
// boundary at batch_size=1: with more records than one batch, Build
// must run multiple runBatch cycles, and the final state has every
// record indexed with the progress cursor cleared (spec §8 seed
// scenario 5, and the spec.md:250 transaction-size boundary this
// exercises the record-count analogue of).
func TestBuildMultiBatchCompletesAndIndexesEverything(t *testing.T) {
	ctx := context.Background()
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})

	entity := buildUserEntity()
	users := seedUsers(t, db, sub, entity, 5)

	descriptor := index.Descriptor{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindScalar}}
	registry := index.NewStateRegistry(sub)
	if _, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		return nil, registry.Enable(ctx, txn, descriptor.Name)
	}); err != nil {
		t.Fatal(err)
	}

	builder := New(db, "User", descriptor, entity, sub, sub, registry, 1)
	if err := builder.Build(ctx); err != nil {
		t.Fatal(err)
	}

	snap := db.Snapshot()
	if _, ok := snap[string(sub.BuildProgressKey(descriptor.Name))]; ok {
		t.Fatalf("expected progress cursor cleared on completion")
	}
	assertIndexed(t, snap, sub, users)

	if _, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		s, err := registry.State(ctx, txn, descriptor.Name)
		if err != nil {
			return nil, err
		}
		if s != index.StateReadable {
			t.Fatalf("expected by_email readable, got %s", s)
		}
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
}

// TestBuildResumesAfterKillFromPersistedCursor simulates a process
// restart mid-build: one OnlineBuilder runs a single batch and is
// discarded, then a fresh OnlineBuilder against the same subspace
// (and hence the same persisted BuildProgressKey cursor) is asked to
// finish the job (spec §4.7 "resumable ... on restart, resume from
// the persisted cursor").
func TestBuildResumesAfterKillFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})

	entity := buildUserEntity()
	users := seedUsers(t, db, sub, entity, 4)

	descriptor := index.Descriptor{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindScalar}}
	registry := index.NewStateRegistry(sub)
	if _, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		return nil, registry.Enable(ctx, txn, descriptor.Name)
	}); err != nil {
		t.Fatal(err)
	}

	killed := New(db, "User", descriptor, entity, sub, sub, registry, 1)
	s := store.New(sub)
	begin, end, err := killed.cursorRange(ctx)
	if err != nil {
		t.Fatal(err)
	}
	done, err := killed.runBatch(ctx, s, begin, end)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatalf("expected build not yet done after a single batch of 1 out of 4 records")
	}

	midSnap := db.Snapshot()
	if _, ok := midSnap[string(sub.BuildProgressKey(descriptor.Name))]; !ok {
		t.Fatalf("expected a persisted progress cursor after the killed builder's partial run")
	}
	indexedSoFar := 0
	for _, u := range users {
		key := sub.IndexKey("by_email", keyspace.Tuple{u.Email}, keyspace.Tuple{u.ID})
		if _, ok := midSnap[string(key)]; ok {
			indexedSoFar++
		}
	}
	if indexedSoFar != 1 {
		t.Fatalf("expected exactly 1 record indexed before resume, got %d", indexedSoFar)
	}

	resumed := New(db, "User", descriptor, entity, sub, sub, registry, 1)
	if err := resumed.Build(ctx); err != nil {
		t.Fatal(err)
	}

	finalSnap := db.Snapshot()
	if _, ok := finalSnap[string(sub.BuildProgressKey(descriptor.Name))]; ok {
		t.Fatalf("expected progress cursor cleared after resumed build completes")
	}
	assertIndexed(t, finalSnap, sub, users)
}

// fakeBuildStrategy is an index.Maintainer that also implements
// index.BuildStrategy, to verify OnlineBuilder.Build delegates to it
// instead of driving Scan record-by-record (spec §4.7 "If the
// maintainer supplies a custom build strategy ... delegate the whole
// build to it").
type fakeBuildStrategy struct {
	built     bool
	scanCalls int
}

func (f *fakeBuildStrategy) Update(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, old, new index.Evaluator) error {
	return nil
}

func (f *fakeBuildStrategy) Scan(ctx context.Context, txn fdbkv.Transaction, id keyspace.Tuple, record index.Evaluator) error {
	f.scanCalls++
	return nil
}

func (f *fakeBuildStrategy) Build(ctx context.Context, db fdbkv.Database) error {
	f.built = true
	return nil
}

func TestBuildDelegatesToCustomBuildStrategy(t *testing.T) {
	ctx := context.Background()
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})

	entity := buildUserEntity()
	seedUsers(t, db, sub, entity, 3)

	descriptor := index.Descriptor{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindScalar}}
	registry := index.NewStateRegistry(sub)
	if _, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		return nil, registry.Enable(ctx, txn, descriptor.Name)
	}); err != nil {
		t.Fatal(err)
	}

	strategy := &fakeBuildStrategy{}
	builder := New(db, "User", descriptor, entity, sub, sub, registry, 1, WithMaintainer(strategy))
	if err := builder.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if !strategy.built {
		t.Fatalf("expected Build to delegate to the custom BuildStrategy")
	}
	if strategy.scanCalls != 0 {
		t.Fatalf("expected Scan never called when a BuildStrategy is delegated to, got %d calls", strategy.scanCalls)
	}

	if _, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		s, err := registry.State(ctx, txn, descriptor.Name)
		if err != nil {
			return nil, err
		}
		if s != index.StateReadable {
			t.Fatalf("expected by_email readable after delegated build promotes it, got %s", s)
		}
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
}
