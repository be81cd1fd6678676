package index

// KindTag names a family of index maintenance strategy (spec §3
// "kind (tag + optional kind-specific parameters)").
type KindTag string

const (
	KindScalar       KindTag = "scalar"
	KindUniqueScalar KindTag = "unique_scalar"
	KindCount        KindTag = "count"
	KindSum          KindTag = "sum"
	KindMin          KindTag = "min"
	KindMax          KindTag = "max"
	KindVersion      KindTag = "version"
	// KindBitmap is a pluggable kind beyond the spec's required set,
	// filling the "pluggable kinds such as vector or full-text"
	// extension point with a concrete, corpus-grounded implementation
	// (Domain Stack: RoaringBitmap/roaring, grounded on
	// eth/stagedsync/stage_log_index.go's bitmap maintenance).
	KindBitmap KindTag = "bitmap"
)

// Kind carries the tag plus any kind-specific parameters (e.g. the
// field whose value is summed, for KindSum).
type Kind struct {
	Tag KindTag
	// ValueField names the field a sum/min/max/bitmap maintainer
	// reads its aggregated value or bitmap member from. Unused by
	// scalar/unique_scalar/count/version.
	ValueField string
}

// Descriptor is the static metadata for one index (spec §3
// "IndexDescriptor"). Name must be unique across the whole schema.
type Descriptor struct {
	Name string
	// TypeName is the owning record type. Empty means a universal
	// index applying to every type (spec §4.4 "for_type").
	TypeName string
	// KeyPaths is the ordered list of indexed field paths (dot
	// notation allowed for nested fields).
	KeyPaths []string
	Kind     Kind
	// SubspaceKey defaults to Name when empty (spec §3).
	SubspaceKey string
}

func (d Descriptor) subspaceKey() string {
	return d.SubspaceKeyOrName()
}

// SubspaceKeyOrName returns SubspaceKey, defaulting to Name when unset
// (spec §3: "subspace_key (defaulting to name)"). Exported for callers
// outside this package (e.g. the migration engine clearing a removed
// index's range) that need the same default without duplicating it.
func (d Descriptor) SubspaceKeyOrName() string {
	if d.SubspaceKey != "" {
		return d.SubspaceKey
	}
	return d.Name
}

// KeyExpression builds this descriptor's runtime KeyExpression from
// its KeyPaths, applying the dotted-name-becomes-Nest translation
// (spec §4.7 step 3ii).
func (d Descriptor) KeyExpression() KeyExpression {
	return FromDottedPaths(d.KeyPaths)
}
