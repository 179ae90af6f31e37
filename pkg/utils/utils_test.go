package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateSessionID(t *testing.T) {
	id1 := GenerateSessionID()
	id2 := GenerateSessionID()

	if id1 == "" || id2 == "" {
		t.Error("Expected non-empty session IDs")
	}
	if id1 == id2 {
		t.Error("Expected unique session IDs")
	}
}

func TestGenerateRoomSID(t *testing.T) {
	sid := GenerateRoomSID()
	if !strings.HasPrefix(sid, "RM_") {
		t.Errorf("Expected RM_ prefix, got: %q", sid)
	}
}

func TestGenerateIdentity(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantPrefix  string
	}{
		{"simple name", "Alice", "alice-"},
		{"name with spaces", "Alice Smith", "alice-smith-"},
		{"non-latin falls back", "Алиса", "guest-"},
		{"empty falls back", "", "guest-"},
		{"special chars stripped", "a!b@c", "abc-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := GenerateIdentity(tt.displayName)
			if !strings.HasPrefix(identity, tt.wantPrefix) {
				t.Errorf("GenerateIdentity(%q) = %q, want prefix %q", tt.displayName, identity, tt.wantPrefix)
			}
		})
	}

	if GenerateIdentity("Alice") == GenerateIdentity("Alice") {
		t.Error("Expected unique identities for the same display name")
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("Expected req_ prefix, got: %q", id)
	}
	if id == GenerateRequestID() {
		t.Error("Expected unique request IDs")
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"trims whitespace", "  hello  ", "hello"},
		{"strips control chars", "hel\x00lo", "hello"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input); got != tt.want {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"truncated with ellipsis", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestShortenWallet(t *testing.T) {
	wallet := "0x1234567890abcdef1234567890abcdef12345678"
	short := ShortenWallet(wallet)
	if !strings.HasPrefix(short, "0x1234") || !strings.HasSuffix(short, "5678") {
		t.Errorf("ShortenWallet() = %q", short)
	}
	if ShortenWallet("0x1234") != "0x1234" {
		t.Error("Short values pass through unchanged")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{2500 * time.Millisecond, "2.50s"},
		{90 * time.Second, "1m30s"},
		{90 * time.Minute, "1h30m"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(time.Now(), time.Minute) {
		t.Error("Fresh timestamp should not be expired")
	}
	if !IsExpired(time.Now().Add(-2*time.Minute), time.Minute) {
		t.Error("Old timestamp should be expired")
	}
}
