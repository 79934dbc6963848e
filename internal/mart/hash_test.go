package mart

import (
	"testing"
	"time"
)

func TestAttrHashDeterministic(t *testing.T) {
	t.Parallel()

	attrs := []Attr{
		{Name: "city", Value: "sao paulo"},
		{Name: "weight", Value: 12.5},
		{Name: "since", Value: time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	a := AttrHash(attrs)
	b := AttrHash(attrs)
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64", len(a))
	}
}

func TestAttrHashSensitivity(t *testing.T) {
	t.Parallel()

	base := []Attr{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}

	tests := []struct {
		name  string
		attrs []Attr
	}{
		{"value changed", []Attr{{Name: "a", Value: "1"}, {Name: "b", Value: "3"}}},
		{"name changed", []Attr{{Name: "a", Value: "1"}, {Name: "c", Value: "2"}}},
		{"order swapped", []Attr{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}}},
		{"attr dropped", []Attr{{Name: "a", Value: "1"}}},
		{"nil vs empty", []Attr{{Name: "a", Value: "1"}, {Name: "b", Value: nil}}},
	}

	want := AttrHash(base)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := AttrHash(tc.attrs); got == want {
				t.Fatalf("hash collision with base for %s", tc.name)
			}
		})
	}
}

func TestAttrHashTimeZoneIndependent(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*3600)
	utc := time.Date(2020, 3, 1, 15, 0, 0, 0, time.UTC)
	brt := utc.In(loc)

	a := AttrHash([]Attr{{Name: "since", Value: utc}})
	b := AttrHash([]Attr{{Name: "since", Value: brt}})
	if a != b {
		t.Fatalf("same instant in different zones hashed differently")
	}
}
