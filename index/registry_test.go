package index

import (
	"context"
	"testing"

	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/fdbtest"
	"github.com/graphene-db/fdbrecord/keyspace"
)

func TestStateRegistryDefaultsDisabled(t *testing.T) {
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})
	reg := NewStateRegistry(sub)

	_, err := db.WithTransaction(context.Background(), func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		s, err := reg.State(ctx, txn, "by_email")
		if err != nil {
			return nil, err
		}
		if s != StateDisabled {
			t.Fatalf("expected StateDisabled, got %v", s)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStateRegistryLifecycle(t *testing.T) {
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})
	reg := NewStateRegistry(sub)

	run := func(fn func(ctx context.Context, txn fdbkv.Transaction) error) error {
		_, err := db.WithTransaction(context.Background(), func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
			return nil, fn(ctx, txn)
		})
		return err
	}

	if err := run(func(ctx context.Context, txn fdbkv.Transaction) error {
		return reg.Enable(ctx, txn, "by_email")
	}); err != nil {
		t.Fatalf("enable from disabled should succeed: %v", err)
	}

	if err := run(func(ctx context.Context, txn fdbkv.Transaction) error {
		return reg.Enable(ctx, txn, "by_email")
	}); err == nil {
		t.Fatalf("enable from write-only should fail")
	}

	if err := run(func(ctx context.Context, txn fdbkv.Transaction) error {
		return reg.MakeReadable(ctx, txn, "by_email")
	}); err != nil {
		t.Fatalf("make readable from write-only should succeed: %v", err)
	}

	if err := run(func(ctx context.Context, txn fdbkv.Transaction) error {
		s, err := reg.State(ctx, txn, "by_email")
		if err != nil {
			return err
		}
		if s != StateReadable {
			t.Fatalf("expected readable, got %v", s)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := run(func(ctx context.Context, txn fdbkv.Transaction) error {
		return reg.Disable(ctx, txn, "by_email")
	}); err != nil {
		t.Fatalf("disable should always succeed: %v", err)
	}
}

func TestStateRegistryStatesBatch(t *testing.T) {
	db := fdbtest.NewMemoryDatabase()
	sub := keyspace.NewSubspace([]byte{0xFE})
	reg := NewStateRegistry(sub)

	_, err := db.WithTransaction(context.Background(), func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		if err := reg.Enable(ctx, txn, "a"); err != nil {
			return nil, err
		}
		states, err := reg.States(ctx, txn, []string{"a", "b"})
		if err != nil {
			return nil, err
		}
		if states["a"] != StateWriteOnly {
			t.Fatalf("expected write-only for a, got %v", states["a"])
		}
		if states["b"] != StateDisabled {
			t.Fatalf("expected disabled for unseen b, got %v", states["b"])
		}
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
