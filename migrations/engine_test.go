package migrations

import (
	"context"
	"fmt"
	"testing"

	"github.com/graphene-db/fdbrecord/codec"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/fdbtest"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/recordctx"
	"github.com/graphene-db/fdbrecord/schema"
)

type migUser struct {
	ID    string
	Email string
}

func migUserExtractor(record interface{}, field string) (interface{}, error) {
	u := record.(migUser)
	switch field {
	case "id":
		return u.ID, nil
	case "email":
		return u.Email, nil
	}
	return nil, nil
}

func migUserEntity(indexes ...index.Descriptor) schema.EntityDescriptor {
	return schema.EntityDescriptor{
		TypeName:  "User",
		Fields:    []string{"id", "email"},
		Extractor: migUserExtractor,
		Codec:     codec.NewCBORCodec(),
		New:       func() interface{} { return new(migUser) },
		Indexes:   indexes,
	}
}

func stateOf(t *testing.T, ctx context.Context, db fdbkv.Database, registry *index.StateRegistry, name string) index.State {
	t.Helper()
	var state index.State
	_, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		s, err := registry.State(ctx, txn, name)
		state = s
		return nil, err
	})
	if err != nil {
		t.Fatal(err)
	}
	return state
}

// TestEngineAddIndexMigration drives spec §8 seed scenario 4: schema v1
// has no indexes, v2 adds a scalar index on email; after migrating,
// every existing record has an index entry and the index is readable
// with its progress cursor cleared.
func TestEngineAddIndexMigration(t *testing.T) {
	ctx := context.Background()
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})

	v1 := schema.Version{Major: 1}
	v2 := schema.Version{Major: 2}

	s1 := mustSchema(t, v1, migUserEntity())
	emailIdx := index.Descriptor{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindScalar}}
	s2 := mustSchema(t, v2, migUserEntity(emailIdx))

	manager := index.NewManager(index.NewStateRegistry(sub))
	if err := manager.RegisterMany(s2.AllIndexes()); err != nil {
		t.Fatal(err)
	}

	// Seed 5 users under schema v1, before the index exists (it is
	// registered but still disabled, so ordinary maintenance skips it).
	rctx := recordctx.New(db, s1, manager, sub)
	users := make([]migUser, 5)
	for i := range users {
		u := migUser{ID: fmt.Sprintf("u%d", i), Email: fmt.Sprintf("u%d@x.com", i)}
		users[i] = u
		if err := rctx.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
			t.Fatal(err)
		}
	}
	if err := rctx.Save(ctx); err != nil {
		t.Fatal(err)
	}

	engine := New(db, sub, manager, []*schema.Schema{s1, s2}, []Stage{{Name: "add-by-email", From: v1, To: v2}})
	if err := engine.setVersion(ctx, v1); err != nil {
		t.Fatal(err)
	}

	if err := engine.Migrate(ctx, v2); err != nil {
		t.Fatal(err)
	}

	registry := index.NewStateRegistry(sub)
	if state := stateOf(t, ctx, db, registry, "by_email"); state != index.StateReadable {
		t.Fatalf("expected by_email readable, got %s", state)
	}

	snap := db.Snapshot()
	if _, ok := snap[string(sub.BuildProgressKey("by_email"))]; ok {
		t.Fatalf("expected progress cursor cleared")
	}

	for _, u := range users {
		key := sub.IndexKey("by_email", keyspace.Tuple{u.Email}, keyspace.Tuple{u.ID})
		if _, ok := snap[string(key)]; !ok {
			t.Fatalf("missing index entry for %+v", u)
		}
	}

	cur, ok, err := engine.currentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || cur != v2 {
		t.Fatalf("expected persisted version v2, got %v ok=%v", cur, ok)
	}
}

// TestEngineRemoveIndexMigration drives spec §8 seed scenario 6: start
// with an index readable, migrate to a schema that drops it.
func TestEngineRemoveIndexMigration(t *testing.T) {
	ctx := context.Background()
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})

	v1 := schema.Version{Major: 1}
	v2 := schema.Version{Major: 2}

	emailIdx := index.Descriptor{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindScalar}}
	s1 := mustSchema(t, v1, migUserEntity(emailIdx))
	s2 := mustSchema(t, v2, migUserEntity())

	manager := index.NewManager(index.NewStateRegistry(sub))
	if err := manager.RegisterMany(s1.AllIndexes()); err != nil {
		t.Fatal(err)
	}

	registry := index.NewStateRegistry(sub)
	// Drive by_email straight to readable, as if an earlier migration
	// had already built it.
	_, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		if err := registry.Enable(ctx, txn, "by_email"); err != nil {
			return nil, err
		}
		return nil, registry.MakeReadable(ctx, txn, "by_email")
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := New(db, sub, manager, []*schema.Schema{s1, s2}, []Stage{{Name: "drop-by-email", From: v1, To: v2}})
	if err := engine.setVersion(ctx, v1); err != nil {
		t.Fatal(err)
	}

	if err := engine.Migrate(ctx, v2); err != nil {
		t.Fatal(err)
	}

	if state := stateOf(t, ctx, db, registry, "by_email"); state != index.StateDisabled {
		t.Fatalf("expected by_email disabled after removal, got %s", state)
	}

	snap := db.Snapshot()
	if _, ok := snap[string(sub.FormerIndexKey("by_email"))]; !ok {
		t.Fatalf("expected FormerIndex tombstone for by_email")
	}

	cur, ok, err := engine.currentVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || cur != v2 {
		t.Fatalf("expected persisted version v2, got %v ok=%v", cur, ok)
	}
}
