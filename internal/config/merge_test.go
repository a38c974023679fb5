package config

import (
	"reflect"
	"testing"
)

func TestDeepMergeRecursesOnMaps(t *testing.T) {
	base := map[string]interface{}{
		"risk": map[string]interface{}{
			"maxLeverage": 10,
			"maxDrawdown": 0.2,
		},
		"name": "alpha",
	}
	override := map[string]interface{}{
		"risk": map[string]interface{}{
			"maxLeverage": 5,
		},
	}

	got := DeepMerge(base, override)
	want := map[string]interface{}{
		"risk": map[string]interface{}{
			"maxLeverage": 5,
			"maxDrawdown": 0.2,
		},
		"name": "alpha",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge = %#v, want %#v", got, want)
	}
}

// TestDeepMergeReplacesArrays verifies arrays are replaced wholesale, never
// concatenated.
func TestDeepMergeReplacesArrays(t *testing.T) {
	base := map[string]interface{}{"tp": []interface{}{1, 2, 3}}
	override := map[string]interface{}{"tp": []interface{}{9}}

	got := DeepMerge(base, override)
	if !reflect.DeepEqual(got["tp"], []interface{}{9}) {
		t.Errorf("arrays must be replaced, got %#v", got["tp"])
	}
}

func TestDeepMergeScalarOverMap(t *testing.T) {
	base := map[string]interface{}{"k": map[string]interface{}{"inner": 1}}
	override := map[string]interface{}{"k": "flat"}

	got := DeepMerge(base, override)
	if got["k"] != "flat" {
		t.Errorf("scalar override must replace map, got %#v", got["k"])
	}
}

func TestDeepMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]interface{}{"a": 1}
	override := map[string]interface{}{"b": 2}
	_ = DeepMerge(base, override)

	if len(base) != 1 || len(override) != 1 {
		t.Error("inputs were mutated")
	}
}

func TestMergeLayersTracksSources(t *testing.T) {
	sources := map[string]string{}
	merged := mergeLayers(sources,
		layer{"defaults", map[string]interface{}{"a": 1, "b": 1}},
		layer{"environment", map[string]interface{}{"b": 2}},
		layer{"operator", map[string]interface{}{"c": 3}},
	)

	if merged["a"] != 1 || merged["b"] != 2 || merged["c"] != 3 {
		t.Errorf("merged = %#v", merged)
	}
	if sources["a"] != "defaults" || sources["b"] != "environment" || sources["c"] != "operator" {
		t.Errorf("sources = %#v", sources)
	}
}
