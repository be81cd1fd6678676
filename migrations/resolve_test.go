package migrations

import (
	"testing"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/schema"
)

func mustSchema(t *testing.T, v schema.Version, entities ...schema.EntityDescriptor) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(v, entities...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestResolveEmptySchemaList(t *testing.T) {
	_, err := resolve(nil, nil, schema.Version{}, schema.Version{Major: 1})
	if !fdberr.Is(err, fdberr.EmptySchemaList) {
		t.Fatalf("expected EmptySchemaList, got %v", err)
	}
}

func TestResolveDuplicateVersion(t *testing.T) {
	v := schema.Version{Major: 1}
	s1 := mustSchema(t, v)
	s2 := mustSchema(t, v)
	_, err := resolve([]*schema.Schema{s1, s2}, []Stage{{From: v, To: v}}, v, v)
	if !fdberr.Is(err, fdberr.DuplicateVersion) {
		t.Fatalf("expected DuplicateVersion, got %v", err)
	}
}

func TestResolveVersionsNotOrdered(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 2})
	s2 := mustSchema(t, schema.Version{Major: 1})
	_, err := resolve([]*schema.Schema{s1, s2}, []Stage{{From: schema.Version{Major: 2}, To: schema.Version{Major: 1}}},
		schema.Version{Major: 2}, schema.Version{Major: 1})
	if !fdberr.Is(err, fdberr.VersionsNotOrdered) {
		t.Fatalf("expected VersionsNotOrdered, got %v", err)
	}
}

func TestResolveStageCountMismatch(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 1})
	s2 := mustSchema(t, schema.Version{Major: 2})
	s3 := mustSchema(t, schema.Version{Major: 3})
	_, err := resolve([]*schema.Schema{s1, s2, s3}, []Stage{{From: schema.Version{Major: 1}, To: schema.Version{Major: 2}}},
		schema.Version{Major: 1}, schema.Version{Major: 3})
	if !fdberr.Is(err, fdberr.StageCountMismatch) {
		t.Fatalf("expected StageCountMismatch, got %v", err)
	}
}

func TestResolveStageMismatch(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 1})
	s2 := mustSchema(t, schema.Version{Major: 2})
	stages := []Stage{{From: schema.Version{Major: 1}, To: schema.Version{Major: 9}}}
	_, err := resolve([]*schema.Schema{s1, s2}, stages, schema.Version{Major: 1}, schema.Version{Major: 2})
	if !fdberr.Is(err, fdberr.StageMismatch) {
		t.Fatalf("expected StageMismatch, got %v", err)
	}
}

func TestResolveNoMigrationPath(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 1})
	s2 := mustSchema(t, schema.Version{Major: 2})
	stages := []Stage{{From: schema.Version{Major: 1}, To: schema.Version{Major: 2}}}
	_, err := resolve([]*schema.Schema{s1, s2}, stages, schema.Version{Major: 1}, schema.Version{Major: 99})
	if !fdberr.Is(err, fdberr.NoMigrationPath) {
		t.Fatalf("expected NoMigrationPath, got %v", err)
	}
}

func TestResolveDowngradeNotSupported(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 1})
	s2 := mustSchema(t, schema.Version{Major: 2})
	stages := []Stage{{From: schema.Version{Major: 1}, To: schema.Version{Major: 2}}}
	_, err := resolve([]*schema.Schema{s1, s2}, stages, schema.Version{Major: 2}, schema.Version{Major: 1})
	if !fdberr.Is(err, fdberr.DowngradeNotSupported) {
		t.Fatalf("expected DowngradeNotSupported, got %v", err)
	}
}

func TestResolveNoOpWhenTargetEqualsCurrent(t *testing.T) {
	s1 := mustSchema(t, schema.Version{Major: 1})
	s2 := mustSchema(t, schema.Version{Major: 2})
	stages := []Stage{{From: schema.Version{Major: 1}, To: schema.Version{Major: 2}}}
	path, err := resolve([]*schema.Schema{s1, s2}, stages, schema.Version{Major: 2}, schema.Version{Major: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 0 {
		t.Fatalf("expected no-op path, got %v", path)
	}
}

func TestResolveMultiStepChain(t *testing.T) {
	v1, v2, v3 := schema.Version{Major: 1}, schema.Version{Major: 2}, schema.Version{Major: 3}
	s1, s2, s3 := mustSchema(t, v1), mustSchema(t, v2), mustSchema(t, v3)
	stages := []Stage{
		{Name: "v1-to-v2", From: v1, To: v2},
		{Name: "v2-to-v3", From: v2, To: v3},
	}
	path, err := resolve([]*schema.Schema{s1, s2, s3}, stages, v1, v3)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 || path[0].Name != "v1-to-v2" || path[1].Name != "v2-to-v3" {
		t.Fatalf("unexpected path: %+v", path)
	}
}
