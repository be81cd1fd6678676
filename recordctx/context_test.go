package recordctx

import (
	"context"
	"testing"

	"github.com/graphene-db/fdbrecord/codec"
	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/fdbtest"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/schema"
)

type user struct {
	ID    string
	Email string
}

func userExtractor(record interface{}, field string) (interface{}, error) {
	u := record.(user)
	switch field {
	case "id":
		return u.ID, nil
	case "email":
		return u.Email, nil
	}
	return nil, nil
}

func newTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	entity := schema.EntityDescriptor{
		TypeName:  "User",
		Fields:    []string{"id", "email"},
		Extractor: userExtractor,
		Codec:     codec.NewCBORCodec(),
		New:       func() interface{} { return new(user) },
		Indexes: []index.Descriptor{
			{Name: "by_email", TypeName: "User", KeyPaths: []string{"email"}, Kind: index.Kind{Tag: index.KindUniqueScalar}},
		},
	}
	sch, err := schema.NewSchema(schema.Version{1, 0, 0}, entity)
	if err != nil {
		t.Fatal(err)
	}
	return sch
}

func newTestContext(t *testing.T) (*Context, *fdbtest.MemoryDatabase, *index.Manager) {
	t.Helper()
	sch := newTestSchema(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	manager := index.NewManager(index.NewStateRegistry(sub))
	for _, d := range sch.AllIndexes() {
		if err := manager.Register(d); err != nil {
			t.Fatal(err)
		}
	}
	db := fdbtest.NewMemoryDatabase()
	c := New(db, sch, manager, sub)
	return c, db, manager
}

func enableIndex(t *testing.T, db *fdbtest.MemoryDatabase, sub keyspace.Subspace, name string) {
	t.Helper()
	reg := index.NewStateRegistry(sub)
	_, err := db.WithTransaction(context.Background(), func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		if err := reg.Enable(ctx, txn, name); err != nil {
			return nil, err
		}
		return nil, reg.MakeReadable(ctx, txn, name)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestContextBasicRoundTrip(t *testing.T) {
	c, _, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u := user{ID: "01HA", Email: "a@x"}

	if err := c.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
		t.Fatal(err)
	}
	if !c.HasChanges() {
		t.Fatalf("expected HasChanges true before save")
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.HasChanges() {
		t.Fatalf("expected HasChanges false after save")
	}

	record, found, err := c.Model(context.Background(), "User", keyspace.Tuple{u.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatalf("expected record found")
	}
	got := record.(user)
	if got != u {
		t.Fatalf("got %+v want %+v", got, u)
	}
}

func TestContextInsertThenDeleteBeforeSaveLeavesNoTrace(t *testing.T) {
	c, db, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u := user{ID: "01HA", Email: "a@x"}

	if err := c.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
		t.Fatal(err)
	}
	c.Delete("User", keyspace.Tuple{u.ID}, sub)
	if c.HasChanges() {
		t.Fatalf("expected no staged changes after cancellation")
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(db.Snapshot()) != 0 {
		t.Fatalf("expected no persisted keys, got %d", len(db.Snapshot()))
	}
}

func TestContextDeleteAfterSaveRemovesRecord(t *testing.T) {
	c, _, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u := user{ID: "01HA", Email: "a@x"}

	if err := c.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.Delete("User", keyspace.Tuple{u.ID}, sub)
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, found, err := c.Model(context.Background(), "User", keyspace.Tuple{u.ID})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("expected record gone after delete+save")
	}
}

func TestContextSaveRestoresStagingOnConflict(t *testing.T) {
	c, db, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u1 := user{ID: "01HA", Email: "a@x"}
	u2 := user{ID: "01HB", Email: "b@x"}

	if err := c.Insert("User", keyspace.Tuple{u1.ID}, u1, sub); err != nil {
		t.Fatal(err)
	}
	if err := c.Insert("User", keyspace.Tuple{u2.ID}, u2, sub); err != nil {
		t.Fatal(err)
	}

	conflictKey := sub.RecordKey("User", keyspace.Tuple{u2.ID})
	db.ConflictOnKeys = map[string]bool{string(conflictKey): true}

	err := c.Save(context.Background())
	if !fdberr.IsTransactionConflict(err) {
		t.Fatalf("expected TransactionConflict, got %v", err)
	}
	if !c.HasChanges() {
		t.Fatalf("expected staging restored after failed save")
	}
	if len(db.Snapshot()) != 0 {
		t.Fatalf("expected nothing committed on conflict, got %d keys", len(db.Snapshot()))
	}

	// Retry should now succeed since the conflict trigger is one-shot.
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestContextMaintainsUniqueIndexOnSave(t *testing.T) {
	c, db, manager := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u := user{ID: "01HA", Email: "a@x"}

	enableIndex(t, db, sub, "by_email")

	if err := c.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := db.Snapshot()
	expectedIndexKey := sub.UniqueIndexKey("by_email", keyspace.Tuple{u.Email})
	v, ok := snap[string(expectedIndexKey)]
	if !ok {
		t.Fatalf("expected index entry for email present")
	}
	unpacked, err := keyspace.Unpack(v)
	if err != nil {
		t.Fatal(err)
	}
	if unpacked[0] != u.ID {
		t.Fatalf("expected index value to store id, got %v", unpacked)
	}
	_ = manager
}

func TestContextFetchOverlaysPendingInserts(t *testing.T) {
	c, _, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u1 := user{ID: "01HA", Email: "a@x"}
	u2 := user{ID: "01HB", Email: "b@x"}

	if err := c.Insert("User", keyspace.Tuple{u1.ID}, u1, sub); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Insert("User", keyspace.Tuple{u2.ID}, u2, sub); err != nil {
		t.Fatal(err)
	}

	got, err := c.Fetch(context.Background(), "User", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records (1 on disk + 1 pending), got %d", len(got))
	}
}

func TestContextFetchExcludesPendingDeletes(t *testing.T) {
	c, _, _ := newTestContext(t)
	sub := keyspace.NewSubspace([]byte{0xFE})
	u := user{ID: "01HA", Email: "a@x"}

	if err := c.Insert("User", keyspace.Tuple{u.ID}, u, sub); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Delete("User", keyspace.Tuple{u.ID}, sub)

	got, err := c.Fetch(context.Background(), "User", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 records, got %d", len(got))
	}
}
