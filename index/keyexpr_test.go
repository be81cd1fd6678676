package index

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/graphene-db/fdbrecord/keyspace"
)

func fieldEvaluator(values map[string]interface{}) Evaluator {
	return func(path string) (interface{}, error) {
		v, ok := values[path]
		if !ok {
			return nil, fmt.Errorf("no field %q", path)
		}
		return v, nil
	}
}

func TestFieldEval(t *testing.T) {
	f := Field{Path: "email"}
	eval := fieldEvaluator(map[string]interface{}{"email": "a@example.com"})
	got, err := f.Eval(eval)
	if err != nil {
		t.Fatal(err)
	}
	want := keyspace.Tuple{"a@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if f.ColumnCount() != 1 {
		t.Fatalf("expected column count 1")
	}
}

func TestConcatColumnCountAdditive(t *testing.T) {
	c := Concat{Children: []KeyExpression{Field{Path: "a"}, Field{Path: "b"}, Empty{}}}
	if c.ColumnCount() != 2 {
		t.Fatalf("expected additive column count 2, got %d", c.ColumnCount())
	}
	eval := fieldEvaluator(map[string]interface{}{"a": int64(1), "b": int64(2)})
	got, err := c.Eval(eval)
	if err != nil {
		t.Fatal(err)
	}
	want := keyspace.Tuple{int64(1), int64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFromDottedPathsBuildsNest(t *testing.T) {
	expr := FromDottedPaths([]string{"address.city"})
	nest, ok := expr.(Nest)
	if !ok {
		t.Fatalf("expected Nest, got %T", expr)
	}
	if nest.ColumnCount() != 2 {
		t.Fatalf("expected column count 2 for nested path, got %d", nest.ColumnCount())
	}
	eval := fieldEvaluator(map[string]interface{}{
		"address":      "unused-parent-marker",
		"address.city": "Springfield",
	})
	got, err := nest.Eval(eval)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 top-level columns (parent + nested sub-tuple), got %v", got)
	}
	sub, ok := got[1].(keyspace.Tuple)
	if !ok {
		t.Fatalf("expected nested element to be a Tuple, got %T", got[1])
	}
	if sub[0] != "Springfield" {
		t.Fatalf("expected nested city value, got %v", sub)
	}
}

func TestFromDottedPathsMultipleTopLevel(t *testing.T) {
	expr := FromDottedPaths([]string{"last_name", "first_name"})
	if expr.ColumnCount() != 2 {
		t.Fatalf("expected column count 2, got %d", expr.ColumnCount())
	}
	eval := fieldEvaluator(map[string]interface{}{"last_name": "Doe", "first_name": "Jane"})
	got, err := expr.Eval(eval)
	if err != nil {
		t.Fatal(err)
	}
	want := keyspace.Tuple{"Doe", "Jane"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestLiteralAndEmpty(t *testing.T) {
	l := Literal{Value: "x"}
	got, _ := l.Eval(nil)
	if !reflect.DeepEqual(got, keyspace.Tuple{"x"}) {
		t.Fatalf("got %v", got)
	}
	e := Empty{}
	got, _ = e.Eval(nil)
	if len(got) != 0 {
		t.Fatalf("expected empty tuple, got %v", got)
	}
	if e.ColumnCount() != 0 {
		t.Fatalf("expected 0 column count")
	}
}
