package assets

import "testing"

func TestDefaultMatch(t *testing.T) {
	d := Default()
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Euro FX", "EUR", true},
		{"EURO FX - CHICAGO MERCANTILE EXCHANGE", "EUR", true},
		{"EURO FX/BRITISH POUND XRATE - CHICAGO MERCANTILE EXCHANGE", "GBP", true},
		{"GOLD - COMMODITY EXCHANGE INC.", "Gold", true},
		{"Gold", "Gold", true},
		{"BITCOIN - CHICAGO MERCANTILE EXCHANGE", "BTC", true},
		{"S&P 500 Index - INTERNATIONAL", "SPX", true},
		{"Unknown Commodity XYZ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := d.Match(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Match(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatchDeclarationOrderWins(t *testing.T) {
	d, err := New([]Asset{
		{Code: "A", Patterns: []string{"yen"}},
		{Code: "B", Patterns: []string{"euro"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, _ := d.Match("EURO FX/JAPANESE YEN XRATE"); got != "A" {
		t.Fatalf("expected first declared code A, got %s", got)
	}
}

func TestEveryDefaultPatternMatchesItsCode(t *testing.T) {
	d := Default()
	shadowed := map[string]bool{}
	for _, s := range d.Shadowed() {
		shadowed[s.Pattern] = true
	}
	for _, a := range DefaultAssets {
		for _, p := range a.Patterns {
			if shadowed[p] {
				continue
			}
			got, ok := d.Match("prefix " + p + " suffix")
			if !ok {
				t.Errorf("pattern %q did not match", p)
				continue
			}
			// An earlier pattern contained in p would have been reported as shadowing.
			if got != a.Code {
				t.Errorf("pattern %q matched %s, want %s", p, got, a.Code)
			}
		}
	}
}

func TestShadowed(t *testing.T) {
	d, err := New([]Asset{
		{Code: "OIL", Patterns: []string{"Crude Oil"}},
		{Code: "BRENT", Patterns: []string{"Brent Crude Oil"}},
		{Code: "GAS", Patterns: []string{"Natural Gas"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := d.Shadowed()
	if len(got) != 1 {
		t.Fatalf("expected 1 shadowed pattern, got %+v", got)
	}
	if got[0].Code != "BRENT" || got[0].ByCode != "OIL" || got[0].SameAsset {
		t.Fatalf("unexpected shadow: %+v", got[0])
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	cases := map[string][]Asset{
		"empty code":    {{Code: " ", Patterns: []string{"x"}}},
		"duplicate":     {{Code: "A", Patterns: []string{"x"}}, {Code: "A", Patterns: []string{"y"}}},
		"no patterns":   {{Code: "A"}},
		"blank pattern": {{Code: "A", Patterns: []string{"  "}}},
	}
	for name, list := range cases {
		if _, err := New(list); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLabelFallsBackToCode(t *testing.T) {
	d := Default()
	if got := d.Label("EUR"); got != "Euro Currency" {
		t.Fatalf("Label(EUR) = %q", got)
	}
	if got := d.Label("XYZ"); got != "XYZ" {
		t.Fatalf("Label(XYZ) = %q", got)
	}
	if !d.Has("BTC") || d.Has("XYZ") {
		t.Fatalf("Has returned unexpected result")
	}
	if codes := d.Codes(); len(codes) != len(DefaultAssets) || codes[0] != "ZAR" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}
