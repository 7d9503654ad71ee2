package codec

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestIsNestingError(t *testing.T) {
	if !isNestingError(errors.New("encoder: recursion limit exceeded")) {
		t.Error("expected recursion message to match")
	}
	if !isNestingError(errors.New("maximum nesting depth reached")) {
		t.Error("expected nesting message to match")
	}
	if isNestingError(errors.New("unsupported value")) {
		t.Error("unexpected match for unrelated error")
	}
}

func TestRepairWebVitalsAttribution(t *testing.T) {
	row := map[string]interface{}{
		"event": "$web_vitals",
		"properties": map[string]interface{}{
			"$web_vitals_INP_event": map[string]interface{}{
				"attribution": map[string]interface{}{
					"interactionTargetElement": map[string]interface{}{"deep": "tree"},
					"interactionTarget":        "#button",
				},
			},
		},
	}

	if !repairWebVitalsAttribution(row) {
		t.Fatal("expected repair to report success")
	}

	attr := row["properties"].(map[string]interface{})["$web_vitals_INP_event"].(map[string]interface{})["attribution"].(map[string]interface{})
	if _, ok := attr["interactionTargetElement"]; ok {
		t.Error("expected the offending subtree to be removed")
	}
	if attr["interactionTarget"] != "#button" {
		t.Error("expected sibling keys to survive")
	}

	// Second pass finds nothing left to remove.
	if repairWebVitalsAttribution(row) {
		t.Error("expected repair to report failure on already repaired row")
	}
}

func TestRepairWebVitalsAttributionWrongShape(t *testing.T) {
	cases := []map[string]interface{}{
		{"event": "$pageview"},
		{"event": "$web_vitals"},
		{"event": "$web_vitals", "properties": "not a map"},
		{"event": "$web_vitals", "properties": map[string]interface{}{
			"$web_vitals_INP_event": map[string]interface{}{},
		}},
	}
	for i, row := range cases {
		if repairWebVitalsAttribution(row) {
			t.Errorf("case %d: expected repair to report failure", i)
		}
	}
}

func TestSanitizeValueInvalidUTF8(t *testing.T) {
	// A run of invalid bytes collapses into a single replacement character.
	got := sanitizeValue("valid \xed\xa0\x80 surrogate")
	want := "valid � surrogate"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := sanitizeValue("already valid"); got != "already valid" {
		t.Errorf("expected valid string unchanged, got %q", got)
	}
}

func TestSanitizeValueNonFiniteFloats(t *testing.T) {
	if got := sanitizeValue(math.NaN()); got != "NaN" {
		t.Errorf("expected \"NaN\", got %v", got)
	}
	if got := sanitizeValue(math.Inf(1)); got != "+Inf" {
		t.Errorf("expected \"+Inf\", got %v", got)
	}
	if got := sanitizeValue(math.Inf(-1)); got != "-Inf" {
		t.Errorf("expected \"-Inf\", got %v", got)
	}
	if got := sanitizeValue(1.5); got != 1.5 {
		t.Errorf("expected finite float unchanged, got %v", got)
	}
}

func TestSanitizeValueNested(t *testing.T) {
	in := map[string]interface{}{
		"texts": []interface{}{"ok", "bad \xff byte"},
		"count": int64(3),
	}
	got := sanitizeValue(in)
	want := map[string]interface{}{
		"texts": []interface{}{"ok", "bad � byte"},
		"count": int64(3),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	// The input is left untouched.
	if in["texts"].([]interface{})[1] != "bad \xff byte" {
		t.Error("expected input to be unmodified")
	}
}
