// Package ee builds Earth Engine server-side expression graphs.
//
// Nothing in this package computes anything locally: every builder call adds a
// function invocation node, and Encode turns the resulting DAG into the
// Expression document accepted by the Earth Engine REST API
// (value:compute, table:export, table:computeFeatures).
//
// Usage Example:
//
//	wells := ee.LoadTable("projects/p/assets/selected_polygons")
//	buffered := wells.Map(func(f ee.Feature) ee.Feature { return f.Buffer(30, 0) })
//	expr, err := ee.Encode(buffered.Size())
package ee

import (
	"encoding/json"
	"fmt"
)

type kind int

const (
	kindConstant kind = iota
	kindInvocation
	kindArgRef
	kindFuncDef
	kindArray
	kindDict
)

// value is one node of the expression DAG. Typed wrappers share nodes freely.
type value struct {
	kind kind

	constant interface{}

	function string
	args     map[string]*value

	argName string

	params []*value
	body   *value

	items   []*value
	entries map[string]*value
}

// Expr is anything that can appear as an argument in an expression graph.
type Expr interface {
	node() *value
}

func constant(x interface{}) *value {
	return &value{kind: kindConstant, constant: x}
}

func invoke(function string, args map[string]*value) *value {
	return &value{kind: kindInvocation, function: function, args: args}
}

func array(items []*value) *value {
	return &value{kind: kindArray, items: items}
}

func dict(entries map[string]*value) *value {
	return &value{kind: kindDict, entries: entries}
}

// Literal wraps a JSON-encodable Go value. Maps and slices of Expr are not
// allowed here; use the typed builders instead.
type Literal struct {
	v *value
}

func (l Literal) node() *value { return l.v }

// Lit returns a constant expression.
func Lit(x interface{}) Literal { return Literal{constant(x)} }

// argOf converts a Go value into a node: Expr values are used as-is,
// everything else becomes a constant.
func argOf(x interface{}) *value {
	if e, ok := x.(Expr); ok {
		return e.node()
	}
	return constant(x)
}

// Object is an untyped computed value, e.g. the result of Get.
type Object struct {
	v *value
}

func (o Object) node() *value { return o.v }

// mappingVar is the argument name the Python client also uses, so encoded
// graphs stay comparable across clients.
func mappingVar(depth int) string {
	return fmt.Sprintf("_MAPPING_VAR_%d_0", depth)
}

// defineFunction turns a Go closure over a single placeholder argument into a
// function definition node. The argument is named after the nesting depth of
// the body so that nested maps never capture each other's variables.
func defineFunction(build func(arg *value) *value) *value {
	param := &value{kind: kindArgRef}
	body := build(param)
	depth := funcDepth(body, map[*value]int{})
	param.argName = mappingVar(depth)
	return &value{kind: kindFuncDef, params: []*value{param}, body: body}
}

// funcDepth returns the deepest function definition nesting under v.
func funcDepth(v *value, memo map[*value]int) int {
	if v == nil {
		return 0
	}
	if d, ok := memo[v]; ok {
		return d
	}
	memo[v] = 0
	best := 0
	visit := func(c *value) {
		if d := funcDepth(c, memo); d > best {
			best = d
		}
	}
	switch v.kind {
	case kindInvocation:
		for _, a := range v.args {
			visit(a)
		}
	case kindArray:
		for _, a := range v.items {
			visit(a)
		}
	case kindDict:
		for _, a := range v.entries {
			visit(a)
		}
	case kindFuncDef:
		best = funcDepth(v.body, memo) + 1
	}
	memo[v] = best
	return best
}

func marshalConstant(x interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(x)
	if err != nil {
		return nil, fmt.Errorf("constant %T is not JSON encodable: %w", x, err)
	}
	return data, nil
}
