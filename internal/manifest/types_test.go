package manifest

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIsRealID(t *testing.T) {
	cases := map[string]bool{
		"id-0a1b2c3d":         true,
		"id-0a1b2c3d4e5f6a7b": true,
		"id-0A1B2C3D":         false, // uppercase hex is not accepted
		"id-abc":              false, // too short
		"app-a":               false,
		"":                    false,
		"id-":                 false,
	}
	for in, want := range cases {
		if got := IsRealID(in); got != want {
			t.Errorf("IsRealID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOperation_UnmarshalStrict(t *testing.T) {
	var op Operation
	err := json.Unmarshal([]byte(`{"op":"createElement","tempId":"app","type":"component","name":"App","bogus":1}`), &op)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error should name the unknown field, got %v", err)
	}
}

func TestOperation_PresentTracksSourceKeys(t *testing.T) {
	var op Operation
	if err := json.Unmarshal([]byte(`{"op":"createElement","tempId":"app","type":"component","name":""}`), &op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// An empty string still counts as present; absence is what matters.
	for _, f := range []string{"op", "tempId", "type", "name"} {
		if !op.Present(f) {
			t.Errorf("Present(%q) = false, want true", f)
		}
	}
	if op.Present("folder") {
		t.Error("Present(folder) = true for absent field")
	}
}

func TestOperation_MarshalRoundTrip(t *testing.T) {
	in := `{"op":"moveVisual","visual":"box","bounds":{"x":10,"y":20,"width":120,"height":60}}`
	var op Operation
	if err := json.Unmarshal([]byte(in), &op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var again Operation
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if again.Op != OpMoveVisual || again.Visual != "box" || again.Bounds == nil || again.Bounds.Width != 120 {
		t.Errorf("round trip lost data: %+v", again)
	}
}

func TestManifest_Validate(t *testing.T) {
	m := &Manifest{Version: "1"}
	if err := m.Validate(); err != nil {
		t.Errorf("minimal manifest should validate, got %v", err)
	}

	m = &Manifest{}
	if err := m.Validate(); err == nil {
		t.Error("missing version should fail validation")
	}

	m = &Manifest{Version: "1", IdempotencyKey: "has spaces"}
	if err := m.Validate(); err == nil {
		t.Error("idempotency key with spaces should fail validation")
	}

	m = &Manifest{Version: "1", IdempotencyKey: "deploy-2026.08:a_b"}
	if err := m.Validate(); err != nil {
		t.Errorf("valid idempotency key rejected: %v", err)
	}

	m = &Manifest{Version: "1", DuplicateStrategy: "merge"}
	if err := m.Validate(); err == nil {
		t.Error("unknown duplicateStrategy should fail validation")
	}
}

func TestCheckShape_UnknownKind(t *testing.T) {
	var op Operation
	if err := json.Unmarshal([]byte(`{"op":"frobnicate"}`), &op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errs := CheckShape(&op)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "unknown op") {
		t.Errorf("errs = %v, want single unknown-op error", errs)
	}
}

func TestCheckShape_MissingRequired(t *testing.T) {
	var op Operation
	if err := json.Unmarshal([]byte(`{"op":"createRelationship","tempId":"r1","type":"flow"}`), &op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errs := CheckShape(&op)
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want missing source and target", errs)
	}
	for _, e := range errs {
		if !strings.Contains(e.Error(), "missing required field") {
			t.Errorf("unexpected error: %v", e)
		}
	}
}

func TestCheckShape_ForeignField(t *testing.T) {
	var op Operation
	if err := json.Unmarshal([]byte(`{"op":"deleteElement","id":"id-0a1b2c3d","name":"whoops"}`), &op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errs := CheckShape(&op)
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), `"name"`) {
		t.Errorf("errs = %v, want single foreign-field error for name", errs)
	}
}

func TestSpecFor_AllKindsCovered(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != 22 {
		t.Fatalf("len(Kinds()) = %d, want 22", len(kinds))
	}
	for _, k := range kinds {
		spec, ok := SpecFor(k)
		if !ok {
			t.Fatalf("SpecFor(%s) missing", k)
		}
		if spec.Defines != NamespaceNone && !contains(spec.Required, "tempId") {
			t.Errorf("%s defines a symbol but tempId is not required", k)
		}
		if spec.DeleteStyle && spec.Defines != NamespaceNone {
			t.Errorf("%s is delete-style but defines a symbol", k)
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
