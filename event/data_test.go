package event

import (
	"reflect"
	"testing"
)

func TestMerge_NoOverwriteKeepsBase(t *testing.T) {
	base := map[string]any{
		"a": "base",
		"nested": map[string]any{
			"x": 1,
		},
		"list": []any{"one"},
	}
	overlay := map[string]any{
		"a": "overlay",
		"b": "new",
		"nested": map[string]any{
			"x": 2,
			"y": 3,
		},
		"list": []any{"two", "three"},
	}

	got := Merge(base, overlay, false)

	if got["a"] != "base" {
		t.Errorf("a = %v, want base value preserved", got["a"])
	}
	if got["b"] != "new" {
		t.Errorf("b = %v, want overlay value added", got["b"])
	}
	nested := got["nested"].(map[string]any)
	if nested["x"] != 1 {
		t.Errorf("nested.x = %v, want 1", nested["x"])
	}
	if nested["y"] != 3 {
		t.Errorf("nested.y = %v, want 3", nested["y"])
	}
	// Lists belonging to base are kept wholesale, never element-merged.
	if !reflect.DeepEqual(got["list"], []any{"one"}) {
		t.Errorf("list = %v, want base list", got["list"])
	}
}

func TestMerge_OverwriteTakesOverlay(t *testing.T) {
	base := map[string]any{
		"a": "base",
		"nested": map[string]any{
			"x": 1,
			"z": "keep",
		},
		"list": []any{"one"},
	}
	overlay := map[string]any{
		"a": "overlay",
		"nested": map[string]any{
			"x": 2,
		},
		"list": []any{"two"},
	}

	got := Merge(base, overlay, true)

	if got["a"] != "overlay" {
		t.Errorf("a = %v, want overlay", got["a"])
	}
	nested := got["nested"].(map[string]any)
	if nested["x"] != 2 {
		t.Errorf("nested.x = %v, want 2", nested["x"])
	}
	if nested["z"] != "keep" {
		t.Errorf("nested.z = %v, want untouched base key", nested["z"])
	}
	if !reflect.DeepEqual(got["list"], []any{"two"}) {
		t.Errorf("list = %v, want overlay list wholesale", got["list"])
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"x": 1}}
	overlay := map[string]any{"nested": map[string]any{"y": 2}}

	_ = Merge(base, overlay, true)

	if _, ok := base["nested"].(map[string]any)["y"]; ok {
		t.Error("Merge mutated base nested map")
	}
}

func TestGet(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "deep",
			},
		},
		"top": 42,
	}

	for _, tc := range []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"top", 42, true},
		{"a.b.c", "deep", true},
		{"a.b", map[string]any{"c": "deep"}, true},
		{"a.missing", nil, false},
		{"top.sub", nil, false},
		{"nope", nil, false},
	} {
		got, ok := Get(data, tc.path)
		if ok != tc.wantOK {
			t.Errorf("Get(%q) ok = %v, want %v", tc.path, ok, tc.wantOK)
			continue
		}
		if ok && !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Get(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCloneMap_Independent(t *testing.T) {
	orig := map[string]any{
		"nested": map[string]any{"x": 1},
		"list":   []any{"a"},
	}
	clone := CloneMap(orig)

	clone["nested"].(map[string]any)["x"] = 2
	clone["list"].([]any)[0] = "b"

	if orig["nested"].(map[string]any)["x"] != 1 {
		t.Error("clone shares nested map with original")
	}
	if orig["list"].([]any)[0] != "a" {
		t.Error("clone shares list with original")
	}
}

func TestNewResponse_LinksRequest(t *testing.T) {
	req, err := New("request", TypeConfiguration, SourceRequestContent, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	resp, err := NewResponse("response", TypeConfiguration, SourceResponseContent, nil, req)
	if err != nil {
		t.Fatalf("NewResponse() error: %v", err)
	}
	if resp.ResponseID != req.ID {
		t.Errorf("ResponseID = %q, want %q", resp.ResponseID, req.ID)
	}
	if resp.ID == req.ID {
		t.Error("response reused request ID")
	}
}

func TestMatches_Wildcards(t *testing.T) {
	e, err := New("e", TypeLifecycle, SourceResponseContent, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	for _, tc := range []struct {
		typ, src string
		want     bool
	}{
		{TypeLifecycle, SourceResponseContent, true},
		{Wildcard, SourceResponseContent, true},
		{TypeLifecycle, Wildcard, true},
		{Wildcard, Wildcard, true},
		{TypeConfiguration, SourceResponseContent, false},
		{TypeLifecycle, SourceRequestContent, false},
	} {
		if got := e.Matches(tc.typ, tc.src); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.typ, tc.src, got, tc.want)
		}
	}
}
