package formulas

import "testing"

func TestPrettify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"H2O", "H₂O"},
		{"SO4^2-", "SO₄²⁻"},
		{"Ca^2+ + 2Cl^-", "Ca²⁺ + 2Cl⁻"},
		{"x^2 + y^3 = z^10", "x² + y³ = z¹⁰"},
		{"a^(n+1)", "aⁿ⁺¹"},
		{"sqrt(16) = 4", "√(16) = 4"},
		{"x = +-3", "x = ±3"},
		{"a <= b >= c", "a ≤ b ≥ c"},
		{"2*3*4 = 24", "2·3·4 = 24"},
		{"2 * x", "2 * x"},
		{"∫ f(x)dx", "∫f(x)dx"},
		{"", ""},
		{"Ответ: 42", "Ответ: 42"},
	}
	for _, tc := range cases {
		if got := Prettify(tc.in); got != tc.want {
			t.Fatalf("Prettify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSuperscriptKeepsUnmappedRunes(t *testing.T) {
	if got := Superscript("2x"); got != "²x" {
		t.Fatalf("Superscript = %q", got)
	}
	if got := Subscript("12a"); got != "₁₂a" {
		t.Fatalf("Subscript = %q", got)
	}
}
