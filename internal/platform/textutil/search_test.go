package textutil

import "testing"

func TestSearchKey(t *testing.T) {
	cases := map[string]string{
		"  Café  Ñandú ":  "cafe nandu",
		"PANADERÍA José": "panaderia jose",
		"ops@Flowix.AR":   "ops@flowix.ar",
		"":                "",
		"\tmulti\n line ": "multi line",
	}
	for in, want := range cases {
		if got := SearchKey(in); got != want {
			t.Errorf("SearchKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrefixRange(t *testing.T) {
	start, end := PrefixRange("caf")
	if start != "caf" {
		t.Fatalf("unexpected start %q", start)
	}
	if !("cafe" >= start && "cafe" < end) {
		t.Fatalf("expected cafe inside range [%q,%q)", start, end)
	}
	if "cag" >= start && "cag" < end {
		t.Fatalf("expected cag outside range")
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("+54 9 (11) 5555-1234"); got != "5491155551234" {
		t.Fatalf("unexpected digits %q", got)
	}
	if got := Digits("abc"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
