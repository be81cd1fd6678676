package migrations

import (
	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/schema"
)

// validate checks the static shape of a (schemas, stages) pair before
// any execution is attempted (spec §4.7: "Validation runs before any
// execution"). schemas must be non-empty, strictly ascending by
// version with no duplicates, and stages must form exactly one Stage
// per adjacent schema pair, each matching that pair's versions.
//
// This module models the migration chain as linear: schemas[i] ->
// schemas[i+1] via stages[i]. The spec's "walks stages in ascending
// version order, picking at each step the stage whose from == cursor"
// describes a search over an arbitrary stage list; a linear chain is
// the simplest structure satisfying that description exactly once per
// link, and it is what the named StageCountMismatch/StageMismatch
// errors test for. See DESIGN.md for this choice.
func validate(schemas []*schema.Schema, stages []Stage) error {
	if len(schemas) == 0 {
		return fdberr.New(fdberr.EmptySchemaList, "", "no schemas registered")
	}
	seen := make(map[schema.Version]bool, len(schemas))
	for i, s := range schemas {
		if seen[s.Version] {
			return fdberr.New(fdberr.DuplicateVersion, versionString(s.Version), "version registered more than once")
		}
		seen[s.Version] = true
		if i > 0 && !schemas[i-1].Version.Less(s.Version) {
			return fdberr.New(fdberr.VersionsNotOrdered, versionString(s.Version),
				"schema versions must be strictly ascending")
		}
	}
	if len(schemas) == 1 {
		if len(stages) != 0 {
			return fdberr.New(fdberr.StageCountMismatch, "", "single schema must have zero stages")
		}
		return nil
	}
	if len(stages) != len(schemas)-1 {
		return fdberr.New(fdberr.StageCountMismatch, "",
			"stage count must equal len(schemas)-1")
	}
	for i, st := range stages {
		if st.From != schemas[i].Version || st.To != schemas[i+1].Version {
			return fdberr.New(fdberr.StageMismatch, st.Name,
				"stage from/to does not match adjacent schemas")
		}
	}
	return nil
}

func versionString(v schema.Version) string {
	return v.String()
}

// indexOf returns the position of v within the ascending schemas
// list, or -1 if absent.
func indexOf(schemas []*schema.Schema, v schema.Version) int {
	for i, s := range schemas {
		if s.Version == v {
			return i
		}
	}
	return -1
}

// resolve computes the ordered slice of stages carrying current to
// target (spec §4.7 "Migration path resolution"). Both current and
// target must be versions present in schemas. Callers handle the
// "current is unset" (None) case themselves before calling resolve,
// per spec: "Migrate from None current version to any target -> writes
// the target, no stage execution."
func resolve(schemas []*schema.Schema, stages []Stage, current, target schema.Version) ([]Stage, error) {
	if err := validate(schemas, stages); err != nil {
		return nil, err
	}

	curIdx := indexOf(schemas, current)
	if curIdx < 0 {
		return nil, fdberr.New(fdberr.NoMigrationPath, versionString(current), "current version not found in schema chain")
	}
	tgtIdx := indexOf(schemas, target)
	if tgtIdx < 0 {
		return nil, fdberr.New(fdberr.NoMigrationPath, versionString(target), "target version not found in schema chain")
	}

	if tgtIdx == curIdx {
		return nil, nil
	}
	if tgtIdx < curIdx {
		return nil, fdberr.New(fdberr.DowngradeNotSupported, versionString(target), "target version precedes current version")
	}

	var path []Stage
	cursor := curIdx
	for cursor != tgtIdx {
		if len(path) > len(schemas) {
			return nil, fdberr.New(fdberr.CyclicMigrationPath, versionString(current), "migration chain did not terminate")
		}
		path = append(path, stages[cursor])
		cursor++
	}
	return path, nil
}
