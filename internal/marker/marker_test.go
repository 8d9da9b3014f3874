package marker

import "testing"

func TestDetectDecision(t *testing.T) {
	got := Detect("Decision: We'll use PostgreSQL.")
	if _, ok := got[Decision]; !ok {
		t.Fatalf("expected decision marker, got %v", got)
	}
}

func TestDetectAfterNewline(t *testing.T) {
	got := Detect("some preamble\nGoal: ship the feature")
	if _, ok := got[Goal]; !ok {
		t.Fatalf("expected goal marker, got %v", got)
	}
}

func TestDetectNoMatch(t *testing.T) {
	got := Detect("just a regular message")
	if len(got) != 0 {
		t.Fatalf("expected no markers, got %v", got)
	}
}

func TestDetectIdempotent(t *testing.T) {
	text := "Constraint: must run offline"
	a := Detect(text)
	b := Detect(text)
	if len(a) != len(b) {
		t.Fatalf("detect not idempotent: %v vs %v", a, b)
	}
	for m := range a {
		if _, ok := b[m]; !ok {
			t.Fatalf("marker %v missing on second call", m)
		}
	}
}

func TestIsCustom(t *testing.T) {
	label, ok := IsCustom("custom:priority")
	if !ok || label != "priority" {
		t.Fatalf("IsCustom failed: label=%q ok=%v", label, ok)
	}
	if _, ok := IsCustom("custom:"); ok {
		t.Fatal("expected empty label to be invalid")
	}
	if _, ok := IsCustom("decision"); ok {
		t.Fatal("expected built-in marker to not be custom")
	}
}

func TestValid(t *testing.T) {
	for _, m := range []string{"decision", "constraint", "failure", "goal", "custom:x"} {
		if !Valid(m) {
			t.Errorf("expected %q to be valid", m)
		}
	}
	for _, m := range []string{"", "custom:", "bogus"} {
		if Valid(m) {
			t.Errorf("expected %q to be invalid", m)
		}
	}
}

func TestEffectiveUnion(t *testing.T) {
	explicit := map[string]struct{}{"custom:vip": {}}
	eff := Effective("Decision: pick Go", explicit, true)
	if _, ok := eff["custom:vip"]; !ok {
		t.Fatal("expected explicit marker to survive")
	}
	if _, ok := eff["decision"]; !ok {
		t.Fatal("expected auto-detected decision marker")
	}
}

func TestEffectiveAutoDetectDisabled(t *testing.T) {
	eff := Effective("Decision: pick Go", nil, false)
	if len(eff) != 0 {
		t.Fatalf("expected no markers with auto-detect disabled, got %v", eff)
	}
}
