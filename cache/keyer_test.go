package cache

import (
	"fmt"
	"strings"
	"testing"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	map1 := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": "1", "x": "2"}}
	map2 := map[string]any{"c": map[string]any{"x": "2", "y": "1"}, "a": 1, "b": 2}

	if Canonicalize(map1, "t") != Canonicalize(map2, "t") {
		t.Error("keys should be equal for permuted maps")
	}
}

func TestCanonicalize_StringNormalization(t *testing.T) {
	a := map[string]any{"query": "  Paris Hotels "}
	b := map[string]any{"query": "paris hotels"}

	if Canonicalize(a, "search") != Canonicalize(b, "search") {
		t.Error("trim/case variants should produce the same key")
	}
}

func TestCanonicalize_VerbatimFields(t *testing.T) {
	c := NewCanonicalizer()
	c.VerbatimFields["booking_ref"] = true

	a := c.Key("b", map[string]any{"booking_ref": "AbC123"})
	b := c.Key("b", map[string]any{"booking_ref": "abc123"})
	if a == b {
		t.Error("verbatim field should keep case")
	}
}

func TestCanonicalize_NilEqualsAbsent(t *testing.T) {
	a := map[string]any{"query": "rome", "limit": nil}
	b := map[string]any{"query": "rome"}

	if Canonicalize(a, "s") != Canonicalize(b, "s") {
		t.Error("explicit nil should match absent key")
	}
}

func TestCanonicalize_StringArraysSorted(t *testing.T) {
	a := map[string]any{"categories": []any{"Museum", "park", "cafe"}}
	b := map[string]any{"categories": []any{"cafe", "museum", "Park"}}

	if Canonicalize(a, "s") != Canonicalize(b, "s") {
		t.Error("order and case of string array items should not matter")
	}
}

func TestCanonicalize_StringArrayDuplicatesKept(t *testing.T) {
	two := map[string]any{"passengers": []any{"adult", "adult"}}
	one := map[string]any{"passengers": []any{"adult"}}

	if Canonicalize(two, "flights") == Canonicalize(one, "flights") {
		t.Error("two passengers and one passenger must not share a key")
	}
}

func TestCanonicalize_TypedNilEqualsAbsent(t *testing.T) {
	var (
		ptr *int
		m   map[string]any
		sl  []string
	)
	tests := []struct {
		name  string
		value any
	}{
		{"nil pointer", ptr},
		{"nil map", m},
		{"nil slice", sl},
	}
	absent := Canonicalize(map[string]any{"query": "rome"}, "s")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(map[string]any{"query": "rome", "x": tt.value}, "s")
			if got != absent {
				t.Errorf("typed nil %s should match absent key", tt.name)
			}
		})
	}
}

func TestCanonicalize_OrderedArraysPreserved(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]any
	}{
		{
			name: "numeric tuple",
			a:    map[string]any{"point": []any{48.85, 2.35}},
			b:    map[string]any{"point": []any{2.35, 48.85}},
		},
		{
			name: "ordered field of strings",
			a:    map[string]any{"waypoints": []any{"paris", "lyon"}},
			b:    map[string]any{"waypoints": []any{"lyon", "paris"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if Canonicalize(tc.a, "s") == Canonicalize(tc.b, "s") {
				t.Error("order-significant arrays must produce different keys")
			}
		})
	}
}

func TestCanonicalize_NumberForms(t *testing.T) {
	type params struct {
		Lat   float64 `json:"lat"`
		Limit int     `json:"limit"`
	}

	a := Canonicalize(params{Lat: 1, Limit: 10}, "s")
	b := Canonicalize(map[string]any{"lat": 1, "limit": 10.0}, "s")
	if a != b {
		t.Errorf("struct and map forms should match: %s vs %s", a, b)
	}
}

func TestCanonicalize_StructOmitsNilPointers(t *testing.T) {
	type params struct {
		Query string  `json:"query"`
		Near  *string `json:"near"`
	}

	a := Canonicalize(params{Query: "Lisbon"}, "s")
	b := Canonicalize(map[string]any{"query": "lisbon"}, "s")
	if a != b {
		t.Error("nil pointer field should be dropped like a missing key")
	}
}

func TestCanonicalize_KeyFormat(t *testing.T) {
	key := Canonicalize(map[string]any{"q": "x"}, "tool:search")

	if !strings.HasPrefix(key, "tool:search:") {
		t.Errorf("expected prefix, got %s", key)
	}
	digest := strings.TrimPrefix(key, "tool:search:")
	if len(digest) != 16 {
		t.Errorf("expected 16 hex chars, got %d (%s)", len(digest), digest)
	}
}

func TestCanonicalize_EmptyAndNil(t *testing.T) {
	empty := Canonicalize(map[string]any{}, "s")
	again := Canonicalize(map[string]any{}, "s")
	if empty != again || strings.TrimPrefix(empty, "s:") == "" {
		t.Errorf("empty input should yield a stable non-empty digest, got %q", empty)
	}
	if Canonicalize(nil, "s") == "" {
		t.Error("nil input should yield a key")
	}
}

func TestCanonicalize_Total(t *testing.T) {
	// Channels and funcs are not JSON-encodable; Canonicalize must not panic.
	key := Canonicalize(map[string]any{"ch": make(chan int)}, "s")
	if key == "" {
		t.Error("expected a key for unencodable input")
	}
	if Canonicalize(func() {}, "s") == "" {
		t.Error("expected a key for func input")
	}
}

func TestCanonicalize_NamespaceSeparates(t *testing.T) {
	input := map[string]any{"q": "x"}
	if Canonicalize(input, "a") == Canonicalize(input, "b") {
		t.Error("different prefixes must produce different keys")
	}
}

func TestCanonicalize_NoCollisions(t *testing.T) {
	const n = 10000
	seen := make(map[string]int, n)

	for i := 0; i < n; i++ {
		input := map[string]any{
			"query":  fmt.Sprintf("city-%d", i),
			"limit":  i % 50,
			"radius": float64(i) / 7,
		}
		key := Canonicalize(input, "search")
		if prev, dup := seen[key]; dup {
			t.Fatalf("collision between input %d and %d: %s", prev, i, key)
		}
		seen[key] = i
	}
}
