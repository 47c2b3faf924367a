package phone

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"555.123.4567", "5551234567"},
		{"  0722 123 456 ", "0722123456"},
		{"12+34", "1234"},
		{"", ""},
		{"private", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSuffix(t *testing.T) {
	if got := Suffix("+40722123456", 9); got != "722123456" {
		t.Errorf("Suffix() = %q", got)
	}
	if got := Suffix("1234", 9); got != "1234" {
		t.Errorf("Suffix() short = %q", got)
	}
}

func TestVariants(t *testing.T) {
	if diff := cmp.Diff([]string{"+15551234567", "15551234567"}, Variants("+1 555 123 4567")); diff != "" {
		t.Errorf("Variants(+) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"5551234567", "+5551234567"}, Variants("5551234567")); diff != "" {
		t.Errorf("Variants() mismatch (-want +got):\n%s", diff)
	}
	if Variants("") != nil {
		t.Error("Variants(\"\") should be nil")
	}
}

func TestEquivalent(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"+15551234567", "15551234567", true},
		{"+15551234567", "5551234567", true},
		{"+15551234567", "+15551234568", false},
		{"112", "112", true},
		{"0112", "112", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := Equivalent(tt.a, tt.b); got != tt.want {
			t.Errorf("Equivalent(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
