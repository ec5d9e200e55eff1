package utils

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, value string
		want           bool
	}{
		{"*", "anything:at/all", true},
		{"*", "", true},
		{"documents:*", "documents:123", true},
		{"documents:*", "documents:", true},
		{"documents:*", "folders:123", false},
		{"documents", "documents", true},
		{"documents", "documents:1", false},
		{"doc*:read", "documents:read", true},
		{"a.b*", "axb1", false},
		{"a.b*", "a.b1", true},
		{"*:secret", "documents:secret", true},
		{"*:secret", "documents:secret2", false},
		{"(x)*", "(x)y", true},
	}
	for _, c := range cases {
		if got := MatchGlob(c.pattern, c.value); got != c.want {
			t.Fatalf("MatchGlob(%q, %q) = %v, want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestMatchAnyGlob(t *testing.T) {
	if !MatchAnyGlob([]string{"folders", "documents:*"}, "documents", "documents:7") {
		t.Fatalf("expected instance form to match")
	}
	if MatchAnyGlob(nil, "documents") {
		t.Fatalf("empty pattern list must not match")
	}
}

func TestContainsAction(t *testing.T) {
	if !ContainsAction([]string{"read", "write"}, "write") {
		t.Fatalf("exact action should match")
	}
	if !ContainsAction([]string{"*"}, "delete") {
		t.Fatalf("wildcard action should match")
	}
	if ContainsAction([]string{"read"}, "re*") {
		t.Fatalf("actions are not globbed here")
	}
}
