package ee

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Expression is the REST representation of a computation graph. Values holds
// every shared node keyed by id; Result names the root.
type Expression struct {
	Result string               `json:"result"`
	Values map[string]ValueNode `json:"values"`
}

// ValueNode is one entry of an Expression. Exactly one field is set.
type ValueNode struct {
	ConstantValue           json.RawMessage     `json:"constantValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
	ArgumentReference       string              `json:"argumentReference,omitempty"`
	FunctionDefinitionValue *FunctionDefinition `json:"functionDefinitionValue,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
	ArrayValue              *ArrayValue         `json:"arrayValue,omitempty"`
	DictionaryValue         *DictionaryValue    `json:"dictionaryValue,omitempty"`
}

// FunctionInvocation calls a named server-side algorithm.
type FunctionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]ValueNode `json:"arguments"`
}

// FunctionDefinition is a lambda; Body references a value id.
type FunctionDefinition struct {
	ArgumentNames []string `json:"argumentNames"`
	Body          string   `json:"body"`
}

// ArrayValue is a list of nodes.
type ArrayValue struct {
	Values []ValueNode `json:"values"`
}

// DictionaryValue is a string-keyed map of nodes.
type DictionaryValue struct {
	Values map[string]ValueNode `json:"values"`
}

// Encode serializes the graph rooted at e. Identical sub-graphs are stored
// once; ids are assigned in post-order so the root has the highest id.
func Encode(e Expr) (*Expression, error) {
	enc := &encoder{
		values: make(map[string]ValueNode),
		byKey:  make(map[string]string),
		memo:   make(map[*value]ValueNode),
	}
	root, err := enc.encode(e.node())
	if err != nil {
		return nil, err
	}
	id, err := enc.ref(root)
	if err != nil {
		return nil, err
	}
	return &Expression{Result: id, Values: enc.values}, nil
}

// EncodedSize is the JSON byte length of the encoded expression.
func EncodedSize(e Expr) (int, error) {
	expr, err := Encode(e)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(expr)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

type encoder struct {
	values map[string]ValueNode
	byKey  map[string]string
	memo   map[*value]ValueNode
	next   int
}

// ref stores n in the value table (once per distinct content) and returns its id.
func (enc *encoder) ref(n ValueNode) (string, error) {
	if n.ValueReference != "" {
		return n.ValueReference, nil
	}
	key, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	if id, ok := enc.byKey[string(key)]; ok {
		return id, nil
	}
	id := strconv.Itoa(enc.next)
	enc.next++
	enc.values[id] = n
	enc.byKey[string(key)] = id
	return id, nil
}

// encode returns the inline form of v. Invocations and function definitions
// are hoisted into the value table and replaced by references.
func (enc *encoder) encode(v *value) (ValueNode, error) {
	if v == nil {
		return ValueNode{ConstantValue: json.RawMessage("null")}, nil
	}
	if n, ok := enc.memo[v]; ok {
		return n, nil
	}

	var out ValueNode
	switch v.kind {
	case kindConstant:
		raw, err := marshalConstant(v.constant)
		if err != nil {
			return ValueNode{}, err
		}
		out = ValueNode{ConstantValue: raw}

	case kindArgRef:
		if v.argName == "" {
			return ValueNode{}, fmt.Errorf("argument reference used outside its function")
		}
		out = ValueNode{ArgumentReference: v.argName}

	case kindArray:
		items := make([]ValueNode, 0, len(v.items))
		for _, it := range v.items {
			n, err := enc.encode(it)
			if err != nil {
				return ValueNode{}, err
			}
			items = append(items, n)
		}
		out = ValueNode{ArrayValue: &ArrayValue{Values: items}}

	case kindDict:
		entries := make(map[string]ValueNode, len(v.entries))
		for _, k := range sortedKeys(v.entries) {
			n, err := enc.encode(v.entries[k])
			if err != nil {
				return ValueNode{}, err
			}
			entries[k] = n
		}
		out = ValueNode{DictionaryValue: &DictionaryValue{Values: entries}}

	case kindInvocation:
		args := make(map[string]ValueNode, len(v.args))
		for _, k := range sortedKeys(v.args) {
			n, err := enc.encode(v.args[k])
			if err != nil {
				return ValueNode{}, fmt.Errorf("%s(%s): %w", v.function, k, err)
			}
			args[k] = n
		}
		id, err := enc.ref(ValueNode{FunctionInvocationValue: &FunctionInvocation{
			FunctionName: v.function,
			Arguments:    args,
		}})
		if err != nil {
			return ValueNode{}, err
		}
		out = ValueNode{ValueReference: id}

	case kindFuncDef:
		body, err := enc.encode(v.body)
		if err != nil {
			return ValueNode{}, err
		}
		bodyID, err := enc.ref(body)
		if err != nil {
			return ValueNode{}, err
		}
		names := make([]string, 0, len(v.params))
		for _, p := range v.params {
			names = append(names, p.argName)
		}
		out = ValueNode{FunctionDefinitionValue: &FunctionDefinition{ArgumentNames: names, Body: bodyID}}

	default:
		return ValueNode{}, fmt.Errorf("unknown node kind %d", v.kind)
	}

	enc.memo[v] = out
	return out, nil
}

// sortedKeys fixes the traversal order so ids do not depend on map iteration.
func sortedKeys(m map[string]*value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
