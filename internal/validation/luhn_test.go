package validation

import (
	"strings"
	"testing"
)

func TestIsValidLuhn(t *testing.T) {
	tests := []struct {
		name   string
		number string
		valid  bool
	}{
		{
			name:   "valid example 1",
			number: "79927398713",
			valid:  true,
		},
		{
			name:   "valid example 2",
			number: "4539578763621486",
			valid:  true,
		},
		{
			name:   "invalid checksum",
			number: "79927398710",
			valid:  false,
		},
		{
			name:   "contains letters",
			number: "1234a67890",
			valid:  false,
		},
		{
			name:   "empty string",
			number: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidLuhn(tt.number)
			if got != tt.valid {
				t.Fatalf("IsValidLuhn(%q) = %v, want %v", tt.number, got, tt.valid)
			}
		})
	}
}

func TestLuhnCheckDigit(t *testing.T) {
	if got := luhnCheckDigit("7992739871"); got != '3' {
		t.Fatalf("luhnCheckDigit = %c, want 3", got)
	}
}

func TestNewTrackingCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewTrackingCode()
		if err != nil {
			t.Fatalf("NewTrackingCode error: %v", err)
		}
		if !strings.HasPrefix(code, TrackingPrefix) || len(code) != len(TrackingPrefix)+10 {
			t.Fatalf("unexpected code format: %q", code)
		}
		if !IsValidTrackingCode(code) {
			t.Fatalf("generated code %q does not validate", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("too many collisions: %d unique of 200", len(seen))
	}
}

func TestIsValidTrackingCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"RM79927398713", true},
		{"rm79927398713", true},
		{"RM79927398710", false},
		{"XX79927398713", false},
		{"RM7992739871", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidTrackingCode(tt.code); got != tt.valid {
			t.Fatalf("IsValidTrackingCode(%q) = %v, want %v", tt.code, got, tt.valid)
		}
	}
}
