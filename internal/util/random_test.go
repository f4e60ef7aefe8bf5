package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -5, 0},
		{"short", 8, 8},
		{"typical", 32, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)
			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex(%d) length = %d, want %d", tt.length, len(got), tt.want)
			}
			for _, c := range got {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("GenerateRandomHex produced non-hex character %q", c)
				}
			}
		})
	}
}

func TestGenerateIDPrefixes(t *testing.T) {
	if id := GenerateConversationID(); !strings.HasPrefix(id, "c_") || len(id) != 34 {
		t.Errorf("GenerateConversationID returned %q", id)
	}
	if id := GenerateEventID(); !strings.HasPrefix(id, "e_") || len(id) != 34 {
		t.Errorf("GenerateEventID returned %q", id)
	}
	if id := GeneratePaymentID(); !strings.HasPrefix(id, "pay_") || len(id) != 36 {
		t.Errorf("GeneratePaymentID returned %q", id)
	}
}

func TestGenerateRandomIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateEventID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
