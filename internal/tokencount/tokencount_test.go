package tokencount

import "testing"

func TestHeuristicCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"Decision: We'll use PostgreSQL.", 8},
	}
	h := Heuristic{}
	for _, c := range cases {
		if got := h.Count(c.in); got != c.want {
			t.Errorf("Count(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestHeuristicDeterministic(t *testing.T) {
	h := Heuristic{}
	text := "the quick brown fox jumps over the lazy dog"
	a := h.Count(text)
	b := h.Count(text)
	if a != b {
		t.Fatalf("non-deterministic: %d != %d", a, b)
	}
}
