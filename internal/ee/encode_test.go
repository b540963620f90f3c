package ee

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func ref(id string) ValueNode { return ValueNode{ValueReference: id} }

func call(fn string, args map[string]ValueNode) ValueNode {
	return ValueNode{FunctionInvocationValue: &FunctionInvocation{FunctionName: fn, Arguments: args}}
}

func TestEncode_LoadTableSize(t *testing.T) {
	got, err := Encode(LoadTable("projects/p/assets/wells").Size())
	require.NoError(t, err)

	want := &Expression{
		Result: "1",
		Values: map[string]ValueNode{
			"0": call("Collection.loadTable", map[string]ValueNode{
				"tableId": {ConstantValue: raw(`"projects/p/assets/wells"`)},
			}),
			"1": call("Collection.size", map[string]ValueNode{
				"collection": ref("0"),
			}),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_DeduplicatesIdenticalSubgraphs(t *testing.T) {
	a := LoadTable("projects/p/assets/a")
	b := LoadTable("projects/p/assets/a")

	got, err := Encode(a.Merge(b))
	require.NoError(t, err)

	assert.Len(t, got.Values, 2)
	merge := got.Values[got.Result].FunctionInvocationValue
	require.NotNil(t, merge)
	assert.Equal(t, "Collection.merge", merge.FunctionName)
	assert.Equal(t, ref("0"), merge.Arguments["collection1"])
	assert.Equal(t, ref("0"), merge.Arguments["collection2"])
}

func TestEncode_IDsAreDeterministic(t *testing.T) {
	build := func() Expr {
		return LoadTable("projects/p/assets/a").Merge(LoadTable("projects/p/assets/b")).Size()
	}
	first, err := Encode(build())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Encode(build())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("encoding changed between runs:\n%s", diff)
		}
	}
}

func TestEncode_Map(t *testing.T) {
	fc := LoadTable("projects/p/assets/wells").Map(func(f Feature) Feature {
		return f.Buffer(30, 0)
	})

	got, err := Encode(fc)
	require.NoError(t, err)

	want := &Expression{
		Result: "2",
		Values: map[string]ValueNode{
			"0": call("Feature.buffer", map[string]ValueNode{
				"distance": {ConstantValue: raw(`30`)},
				"feature":  {ArgumentReference: "_MAPPING_VAR_0_0"},
			}),
			"1": call("Collection.loadTable", map[string]ValueNode{
				"tableId": {ConstantValue: raw(`"projects/p/assets/wells"`)},
			}),
			"2": call("Collection.map", map[string]ValueNode{
				"baseAlgorithm": {FunctionDefinitionValue: &FunctionDefinition{
					ArgumentNames: []string{"_MAPPING_VAR_0_0"},
					Body:          "0",
				}},
				"collection": ref("1"),
			}),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_NestedMapUsesDistinctVariables(t *testing.T) {
	inner := LoadTable("projects/p/assets/b")
	outer := LoadTable("projects/p/assets/a").Map(func(f Feature) Feature {
		n := inner.Map(func(g Feature) Feature { return g.Buffer(1, 0) }).FilterBounds(f).Size()
		return f.Set("hits", n)
	})

	got, err := Encode(outer)
	require.NoError(t, err)

	root := got.Values[got.Result].FunctionInvocationValue
	require.NotNil(t, root)
	def := root.Arguments["baseAlgorithm"].FunctionDefinitionValue
	require.NotNil(t, def)
	assert.Equal(t, []string{"_MAPPING_VAR_1_0"}, def.ArgumentNames)

	var innerNames []string
	for _, v := range got.Values {
		if v.FunctionInvocationValue == nil || v.FunctionInvocationValue.FunctionName != "Collection.map" {
			continue
		}
		if d := v.FunctionInvocationValue.Arguments["baseAlgorithm"].FunctionDefinitionValue; d != nil {
			innerNames = append(innerNames, d.ArgumentNames...)
		}
	}
	assert.ElementsMatch(t, []string{"_MAPPING_VAR_0_0", "_MAPPING_VAR_1_0"}, innerNames)
}

func TestEncode_MarshalsToRESTShape(t *testing.T) {
	expr, err := Encode(Lit(42))
	require.NoError(t, err)

	data, err := json.Marshal(expr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"0","values":{"0":{"constantValue":42}}}`, string(data))

	size, err := EncodedSize(Lit(42))
	require.NoError(t, err)
	assert.Equal(t, len(data), size)
}

func TestEncode_UnencodableConstant(t *testing.T) {
	_, err := Encode(LoadTable("x").Filter(Equals("k", make(chan int))))
	require.Error(t, err)
}

func TestGeometryFromGeoJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantFn  string
		wantErr bool
	}{
		{"point", `{"type":"Point","coordinates":[-113.5,53.5]}`, "GeometryConstructors.Point", false},
		{"polygon", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, "GeometryConstructors.Polygon", false},
		{"collection", `{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[0,0]}]}`, "GeometryConstructors.MultiGeometry", false},
		{"unknown type", `{"type":"Circle","coordinates":[0,0]}`, "", true},
		{"empty coordinates", `{"type":"Polygon","coordinates":null}`, "", true},
		{"bad json", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := GeometryFromGeoJSON([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			expr, err := Encode(g)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFn, expr.Values[expr.Result].FunctionInvocationValue.FunctionName)
		})
	}
}

func TestFeatureHelpers(t *testing.T) {
	g, err := GeometryFromGeoJSON([]byte(`{"type":"Point","coordinates":[1,2]}`))
	require.NoError(t, err)

	f := NewFeature(g, map[string]interface{}{"id": 7}).
		SetMulti(map[string]interface{}{"a": 1, "b": Lit("x")})
	expr, err := Encode(f)
	require.NoError(t, err)

	root := expr.Values[expr.Result].FunctionInvocationValue
	require.NotNil(t, root)
	assert.Equal(t, "Element.setMulti", root.FunctionName)
	props := root.Arguments["properties"].DictionaryValue
	require.NotNil(t, props)
	assert.Equal(t, raw(`1`), props.Values["a"].ConstantValue)
	assert.Equal(t, raw(`"x"`), props.Values["b"].ConstantValue)
}

func TestReduceToVectorsDefaults(t *testing.T) {
	fc := LoadImage("projects/p/assets/lulc").Eq(1).ReduceToVectors(ReduceToVectorsOptions{
		Scale:      10,
		MaxPixels:  1e8,
		BestEffort: true,
	})
	expr, err := Encode(fc)
	require.NoError(t, err)

	root := expr.Values[expr.Result].FunctionInvocationValue
	require.NotNil(t, root)
	assert.Equal(t, "Image.reduceToVectors", root.FunctionName)
	assert.Equal(t, raw(`"polygon"`), root.Arguments["geometryType"].ConstantValue)
	assert.Equal(t, raw(`100000000`), root.Arguments["maxPixels"].ConstantValue)
	assert.Equal(t, raw(`true`), root.Arguments["bestEffort"].ConstantValue)
	_, hasLabel := root.Arguments["labelProperty"]
	assert.False(t, hasLabel)
}
