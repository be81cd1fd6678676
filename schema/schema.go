// Package schema holds the runtime description of a database's record
// types and their indexes (spec §3 "EntityDescriptor", "Schema").
// Grounded on common/dbutils/bucket.go's declarative bucket table:
// the teacher lists every bucket's name and flags once, at package
// scope, and the rest of the codebase walks that list rather than
// hardcoding bucket names — EntityDescriptor/Schema play the same role
// here for record types and their indexes.
package schema

import (
	"fmt"
	"reflect"

	"github.com/graphene-db/fdbrecord/codec"
	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/index"
)

// Extractor resolves one field of a decoded record to a tuple-packable
// value (spec §9 re-architecture guidance: "require the
// schema-registration caller to supply a pure (record, field_name) ->
// tuple_element extractor").
type Extractor func(record interface{}, field string) (interface{}, error)

// EntityDescriptor is the per-record-type metadata supplied at schema
// registration (spec §3).
type EntityDescriptor struct {
	TypeName  string
	Fields    []string
	Extractor Extractor
	Codec     codec.Codec
	// New returns a fresh pointer to the zero value of this entity's Go
	// representation (e.g. func() interface{} { return new(User) }),
	// used as the Codec.Decode target when materializing a record read
	// back off disk.
	New     func() interface{}
	Indexes []index.Descriptor
}

// DecodeRecord decodes payload into a fresh instance via New, then
// dereferences the pointer so callers (and Extractor) see the same
// record shape that was originally passed to Insert.
func (e EntityDescriptor) DecodeRecord(payload []byte) (interface{}, error) {
	ptr := e.New()
	if err := e.Codec.Decode(payload, ptr); err != nil {
		return nil, err
	}
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}

// Evaluator builds an index.Evaluator closed over one decoded record,
// routing field reads through the descriptor's Extractor.
func (e EntityDescriptor) Evaluator(record interface{}) index.Evaluator {
	return func(path string) (interface{}, error) {
		return e.Extractor(record, path)
	}
}

// Schema is an ordered collection of entity descriptors plus a
// version triple (spec §3 "Schema"). Invariant: index names are
// unique across the whole schema, enforced by NewSchema.
type Schema struct {
	Entities []EntityDescriptor
	Version  Version
}

// Version is re-exported here so callers of this package don't also
// need to import keyspace for the common case of declaring a schema
// version; it is structurally identical to keyspace.Version.
type Version struct {
	Major, Minor, Patch int64
}

// Less reports whether v sorts strictly before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NewSchema validates index-name uniqueness across every entity
// before returning the Schema (spec §3 invariant: "index names are
// unique across the schema").
func NewSchema(version Version, entities ...EntityDescriptor) (*Schema, error) {
	seen := make(map[string]string)
	for _, e := range entities {
		for _, idx := range e.Indexes {
			if owner, ok := seen[idx.Name]; ok {
				return nil, fdberr.New(fdberr.Internal, idx.Name,
					"index name already claimed by entity "+owner)
			}
			seen[idx.Name] = e.TypeName
		}
	}
	return &Schema{Entities: entities, Version: version}, nil
}

// EntityFor returns the descriptor registered for typeName.
func (s *Schema) EntityFor(typeName string) (EntityDescriptor, bool) {
	for _, e := range s.Entities {
		if e.TypeName == typeName {
			return e, true
		}
	}
	return EntityDescriptor{}, false
}

// AllIndexes returns the derived set of every index descriptor across
// every entity (spec §3: "the derived set of all index descriptors").
func (s *Schema) AllIndexes() []index.Descriptor {
	var out []index.Descriptor
	for _, e := range s.Entities {
		out = append(out, e.Indexes...)
	}
	return out
}

// IndexOwner returns the sole entity whose descriptors include an
// index named name. Multiple matches is an Internal error; no match is
// a NotFound error (spec §4.7 step 3i: "zero or multiple matches => InternalError /
// IndexNotFound").
func (s *Schema) IndexOwner(name string) (EntityDescriptor, index.Descriptor, error) {
	var owner *EntityDescriptor
	var found index.Descriptor
	for i := range s.Entities {
		for _, idx := range s.Entities[i].Indexes {
			if idx.Name == name {
				if owner != nil {
					return EntityDescriptor{}, index.Descriptor{}, fdberr.New(fdberr.Internal, name,
						"index name claimed by multiple entities")
				}
				owner = &s.Entities[i]
				found = idx
			}
		}
	}
	if owner == nil {
		return EntityDescriptor{}, index.Descriptor{}, fdberr.New(fdberr.NotFound, name, "no entity owns this index")
	}
	return *owner, found, nil
}
