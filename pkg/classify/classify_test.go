package classify

import (
	"errors"
	"math"
	"testing"
)

func TestParseClass(t *testing.T) {
	for _, name := range []string{"Horn", "Siren", "None"} {
		c, err := ParseClass(name)
		if err != nil {
			t.Fatalf("ParseClass(%q) error: %v", name, err)
		}
		if c.String() != name {
			t.Errorf("ParseClass(%q) = %q", name, c)
		}
	}
	if _, err := ParseClass("horn"); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("ParseClass(horn): got %v, want ErrUnknownClass", err)
	}
}

func TestParseLabels(t *testing.T) {
	l, err := ParseLabels([]string{"Horn", "None", "Siren"})
	if err != nil {
		t.Fatalf("ParseLabels error: %v", err)
	}
	if len(l) != 3 || l[0] != Horn || l[2] != Siren {
		t.Errorf("unexpected order: %v", l)
	}
	if _, err := ParseLabels([]string{"Horn", "Horn"}); err == nil {
		t.Error("duplicate labels should fail")
	}
	if _, err := ParseLabels(nil); err == nil {
		t.Error("empty labels should fail")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		probs []float32
		class Class
		prob  float32
	}{
		{"siren", []float32{0.01, 0.02, 0.97}, Siren, 0.97},
		{"horn", []float32{0.95, 0.03, 0.02}, Horn, 0.95},
		{"none", []float32{0.1, 0.8, 0.1}, None, 0.8},
		{"tie picks first", []float32{0.5, 0.5, 0}, Horn, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DefaultLabels.Decode(tt.probs)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if p.Class != tt.class || p.Probability != tt.prob {
				t.Errorf("Decode = %v, want %s (%v)", p, tt.class, tt.prob)
			}
			if len(p.Probabilities) != 3 {
				t.Errorf("Probabilities = %v", p.Probabilities)
			}
		})
	}
}

func TestDecode_BadOutput(t *testing.T) {
	bad := [][]float32{
		{0.5, 0.5},
		{0.1, float32(math.NaN()), 0.2},
		{-0.1, 0.5, 0.6},
		{0.1, 1.5, 0},
	}
	for _, probs := range bad {
		if _, err := DefaultLabels.Decode(probs); !errors.Is(err, ErrBadOutput) {
			t.Errorf("Decode(%v): got %v, want ErrBadOutput", probs, err)
		}
	}
}
