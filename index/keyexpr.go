// Package index implements the secondary-index registry, lifecycle
// state machine, and key-expression/maintainer protocol of spec §4.3,
// §4.4, and the index-maintainer portion of §4.7.
package index

import (
	"strings"

	"github.com/graphene-db/fdbrecord/keyspace"
)

// KeyExpression is the small tree used to compute a composite key
// from a record (spec §3 "KeyExpression").
type KeyExpression interface {
	// Eval resolves the expression against a field Evaluator, returning
	// the tuple elements it contributes, in order.
	Eval(eval Evaluator) (keyspace.Tuple, error)
	// ColumnCount is additive across the tree (spec: "column_count is additive").
	ColumnCount() int
}

// Evaluator resolves a dotted field path against a decoded record. It
// is supplied by the caller (recordctx, build) from an
// EntityDescriptor's field extractor (spec §9 re-architecture guidance:
// "require the schema-registration caller to supply a pure
// (record, field_name) -> tuple_element extractor").
type Evaluator func(path string) (interface{}, error)

// Field resolves a single (possibly dotted, for nested fields) field path.
type Field struct {
	Path string
}

func (f Field) Eval(eval Evaluator) (keyspace.Tuple, error) {
	v, err := eval(f.Path)
	if err != nil {
		return nil, err
	}
	return keyspace.Tuple{v}, nil
}

func (f Field) ColumnCount() int { return 1 }

// Concat evaluates each child in order and concatenates their columns.
type Concat struct {
	Children []KeyExpression
}

func (c Concat) Eval(eval Evaluator) (keyspace.Tuple, error) {
	var out keyspace.Tuple
	for _, child := range c.Children {
		cols, err := child.Eval(eval)
		if err != nil {
			return nil, err
		}
		out = append(out, cols...)
	}
	return out, nil
}

func (c Concat) ColumnCount() int {
	n := 0
	for _, child := range c.Children {
		n += child.ColumnCount()
	}
	return n
}

// Literal always contributes a fixed value, independent of the record.
type Literal struct {
	Value interface{}
}

func (l Literal) Eval(Evaluator) (keyspace.Tuple, error) { return keyspace.Tuple{l.Value}, nil }
func (l Literal) ColumnCount() int                       { return 1 }

// Empty contributes no columns.
type Empty struct{}

func (Empty) Eval(Evaluator) (keyspace.Tuple, error) { return keyspace.Tuple{}, nil }
func (Empty) ColumnCount() int                       { return 0 }

// Nest evaluates parent, then appends child's columns nested as a
// single sub-tuple element (spec §3: "Nest(parent, child)"). Dotted
// field names (e.g. "address.city") are translated into Nest trees by
// the migration engine when building KeyExpressions from keyPaths
// (spec §4.7 step 3ii).
type Nest struct {
	Parent KeyExpression
	Child  KeyExpression
}

func (n Nest) Eval(eval Evaluator) (keyspace.Tuple, error) {
	parentCols, err := n.Parent.Eval(eval)
	if err != nil {
		return nil, err
	}
	childCols, err := n.Child.Eval(eval)
	if err != nil {
		return nil, err
	}
	return append(parentCols, keyspace.Tuple(childCols)), nil
}

func (n Nest) ColumnCount() int { return n.Parent.ColumnCount() + 1 }

// RangeBoundary marks a field as the lower/upper edge of a range scan
// rather than a point value; its Eval returns the field's current
// value like Field (range consumers interpret the position specially).
type Boundary int

const (
	LowerBoundary Boundary = iota
	UpperBoundary
)

type RangeBoundary struct {
	Path     string
	Boundary Boundary
}

func (r RangeBoundary) Eval(eval Evaluator) (keyspace.Tuple, error) {
	v, err := eval(r.Path)
	if err != nil {
		return nil, err
	}
	return keyspace.Tuple{v}, nil
}

func (r RangeBoundary) ColumnCount() int { return 1 }

// FromDottedPaths builds a KeyExpression from an ordered list of
// (possibly dotted) field paths: each top-level path becomes a Field,
// concatenated; a dotted path "a.b.c" becomes Nest(Field("a"),
// Nest(Field("a.b"), Field("a.b.c"))) per spec §4.7 step 3ii ("dotted
// names become Nest"), each Field carrying its full dotted prefix.
func FromDottedPaths(paths []string) KeyExpression {
	children := make([]KeyExpression, 0, len(paths))
	for _, p := range paths {
		children = append(children, fromDottedPath(p))
	}
	if len(children) == 1 {
		return children[0]
	}
	return Concat{Children: children}
}

func fromDottedPath(path string) KeyExpression {
	parts := strings.Split(path, ".")
	return buildNest(parts, "")
}

// buildNest accumulates the dotted prefix seen so far so that each
// Field node (parent and leaf) is handed a meaningful path — the
// EntityDescriptor's extractor resolves dotted paths directly (spec
// §9: "a pure (record, field_name) -> tuple_element extractor"), so
// every node in the Nest tree carries the full prefix up to itself
// rather than a bare segment name.
func buildNest(parts []string, prefix string) KeyExpression {
	cur := parts[0]
	if prefix != "" {
		cur = prefix + "." + cur
	}
	if len(parts) == 1 {
		return Field{Path: cur}
	}
	return Nest{Parent: Field{Path: cur}, Child: buildNest(parts[1:], cur)}
}
