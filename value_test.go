package homegraph

import (
	"encoding/json"
	"testing"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind ValueKind
	}{
		{"null", Null(), KindNull},
		{"bool", Bool(true), KindBool},
		{"int", Int(42), KindInt},
		{"float", Float(2.5), KindFloat},
		{"string", String("hi"), KindString},
		{"array", Array(Int(1), Int(2)), KindArray},
		{"object", Object(map[string]Value{"k": Bool(false)}), KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Kind() != tt.kind {
				t.Errorf("kind = %v, want %v", tt.v.Kind(), tt.kind)
			}
		})
	}

	var zero Value
	if !zero.IsNull() {
		t.Error("zero Value should be null")
	}
}

func TestValueEqual(t *testing.T) {
	if !Int(3).Equal(Int(3)) {
		t.Error("equal ints should match")
	}
	if Int(3).Equal(Float(3)) {
		t.Error("int and float never compare equal")
	}
	a := Object(map[string]Value{"x": Array(String("a"), Null())})
	b := Object(map[string]Value{"x": Array(String("a"), Null())})
	if !a.Equal(b) {
		t.Error("structurally equal objects should match")
	}
	c := Object(map[string]Value{"x": Array(String("a"))})
	if a.Equal(c) {
		t.Error("different array lengths should not match")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	original := Object(map[string]Value{
		"name":    String("Thermostat"),
		"on":      Bool(true),
		"count":   Int(3),
		"temp":    Float(21.5),
		"nothing": Null(),
		"tags":    Array(String("hvac"), String("kitchen")),
	})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !original.Equal(back) {
		t.Errorf("round trip mismatch: %s", data)
	}
}

func TestValueDecodePreservesIntVsFloat(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a": 7, "b": 7.0, "c": 1e3}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	obj := v.ObjectVal()
	if obj["a"].Kind() != KindInt {
		t.Errorf("7 should decode as int, got %v", obj["a"].Kind())
	}
	if obj["b"].Kind() != KindFloat {
		t.Errorf("7.0 should decode as float, got %v", obj["b"].Kind())
	}
	if obj["c"].Kind() != KindFloat {
		t.Errorf("1e3 should decode as float, got %v", obj["c"].Kind())
	}
}

func TestValueMarshalDeterministic(t *testing.T) {
	v := Object(map[string]Value{"z": Int(1), "a": Int(2), "m": Int(3)})
	first, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("non-deterministic output: %s vs %s", first, again)
		}
	}
	if string(first) != `{"a":2,"m":3,"z":1}` {
		t.Errorf("keys not sorted: %s", first)
	}
}

func TestEqualContent(t *testing.T) {
	a := map[string]Value{"x": Int(1)}
	b := map[string]Value{"x": Int(1)}
	if !EqualContent(a, b) {
		t.Error("equal maps should match")
	}
	if EqualContent(a, map[string]Value{"x": Int(2)}) {
		t.Error("different values should not match")
	}
	if EqualContent(a, map[string]Value{}) {
		t.Error("different sizes should not match")
	}
}
