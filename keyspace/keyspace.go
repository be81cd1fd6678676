package keyspace

// Legacy compatibility: these single-character segments are fixed by
// spec §4.1 and must never be renamed.
const (
	recordSegment   = "R"
	indexSegment    = "I"
	metadataSegment = "_metadata"
)

// Subspace is a tuple-prefix namespace rooted at an opaque byte prefix
// handed out by a DirectoryLayer (spec §3 "Subspace"). Every persisted
// key is built by packing under exactly one Subspace.
type Subspace struct {
	prefix []byte
}

// NewSubspace wraps a raw directory-layer prefix.
func NewSubspace(prefix []byte) Subspace {
	cp := make([]byte, len(prefix))
	copy(cp, prefix)
	return Subspace{prefix: cp}
}

// Prefix returns the subspace's raw byte prefix.
func (s Subspace) Prefix() []byte { return s.prefix }

// Pack packs a tuple under this subspace.
func (s Subspace) Pack(t Tuple) []byte {
	return append(append([]byte{}, s.prefix...), t.Pack()...)
}

// RecordKey builds the key for a record: [root]/R/<type>/<id>.
func (s Subspace) RecordKey(typeName string, id Tuple) []byte {
	return s.Pack(append(Tuple{recordSegment, typeName}, id...))
}

// RecordRange returns the [begin, end) range covering every record of
// typeName.
func (s Subspace) RecordRange(typeName string) (begin, end []byte) {
	p := s.Pack(Tuple{recordSegment, typeName})
	return p, StrInc(p)
}

// IndexKey builds the key for a scalar index entry:
// [root]/I/<subspace_key>/v_1/.../v_k/<id>.
func (s Subspace) IndexKey(subspaceKey string, values Tuple, id Tuple) []byte {
	t := append(Tuple{indexSegment, subspaceKey}, values...)
	t = append(t, id...)
	return s.Pack(t)
}

// UniqueIndexKey builds the key for a unique-scalar index entry,
// which omits the trailing id (the id is instead the stored value):
// [root]/I/<subspace_key>/v_1/.../v_k.
func (s Subspace) UniqueIndexKey(subspaceKey string, values Tuple) []byte {
	t := append(Tuple{indexSegment, subspaceKey}, values...)
	return s.Pack(t)
}

// IndexRange returns the [begin, end) range covering every entry of
// the named index (used when clearing a removed index, spec §4.7
// step 4, or scanning a grouping prefix).
func (s Subspace) IndexRange(subspaceKey string, prefixValues Tuple) (begin, end []byte) {
	p := s.Pack(append(Tuple{indexSegment, subspaceKey}, prefixValues...))
	return p, StrInc(p)
}

// MetadataKey builds a key under [root]/_metadata/....
func (s Subspace) MetadataKey(parts ...interface{}) []byte {
	t := append(Tuple{metadataSegment}, Tuple(parts)...)
	return s.Pack(t)
}

// SchemaVersionKey is [root]/_metadata/schema/version.
func (s Subspace) SchemaVersionKey() []byte {
	return s.MetadataKey("schema", "version")
}

// IndexStateKey is [root]/_metadata/state/<index_name>.
func (s Subspace) IndexStateKey(indexName string) []byte {
	return s.MetadataKey("state", indexName)
}

// BuildProgressKey is [root]/_metadata/progress/<index_name>.
func (s Subspace) BuildProgressKey(indexName string) []byte {
	return s.MetadataKey("progress", indexName)
}

// FormerIndexKey is [root]/_metadata/formerIndexes/<index_name>.
func (s Subspace) FormerIndexKey(indexName string) []byte {
	return s.MetadataKey("formerIndexes", indexName)
}

// MigrationLogKey is [root]/_metadata/migrationLog/<from>-<to>
// (Supplemented Features: audit bookkeeping mirroring dbutils.Migrations).
func (s Subspace) MigrationLogKey(from, to string) []byte {
	return s.MetadataKey("migrationLog", from+"-"+to)
}
