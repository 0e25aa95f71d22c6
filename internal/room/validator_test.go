package room

import (
	"strings"
	"testing"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"empty is allowed", "", false},
		{"normal message", "hello world", false},
		{"emoji", "party 🎉🎉🎉", false},
		{"at char limit", strings.Repeat("a", MaxTextChars), false},
		{"over char limit", strings.Repeat("a", MaxTextChars+1), true},
		{"over byte limit", strings.Repeat("🎉", MaxMessageBytes/4+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateText(%q...) error = %v, wantErr %v", truncate(tt.text), err, tt.wantErr)
			}
		})
	}
}

func truncate(s string) string {
	if len(s) > 20 {
		return s[:20]
	}
	return s
}
