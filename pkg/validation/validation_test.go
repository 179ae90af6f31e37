package validation

import (
	"strings"
	"testing"
)

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		wantErr  bool
	}{
		{"valid name", "my-room", false},
		{"valid with underscore", "my_room_1", false},
		{"valid numeric start", "7pm-standup", false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 65), true},
		{"uppercase", "MyRoom", true},
		{"spaces", "my room", true},
		{"leading dash", "-room", true},
		{"slash", "my/room", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.roomName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomName(%q) error = %v, wantErr %v", tt.roomName, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantErr     bool
	}{
		{"valid", "Alice", false},
		{"valid with spaces", "Alice B", false},
		{"valid unicode", "Алиса", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 51), true},
		{"max length unicode", strings.Repeat("ü", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.displayName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.displayName, err, tt.wantErr)
			}
		})
	}
}

func TestValidateWallet(t *testing.T) {
	tests := []struct {
		name    string
		wallet  string
		wantErr bool
	}{
		{"empty is optional", "", false},
		{"valid", "0x" + strings.Repeat("ab", 20), false},
		{"valid mixed case", "0xAbCd" + strings.Repeat("12", 18), false},
		{"missing prefix", strings.Repeat("ab", 21), true},
		{"too short", "0xabcd", true},
		{"too long", "0x" + strings.Repeat("ab", 21), true},
		{"non-hex", "0x" + strings.Repeat("zz", 20), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWallet(tt.wallet)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWallet(%q) error = %v, wantErr %v", tt.wallet, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{"valid slug", "alice-1a2b3c", false},
		{"valid with colon", "svc:recorder", false},
		{"valid with dot", "user.name", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"spaces", "alice smith", true},
		{"slash", "alice/smith", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.identity)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentity(%q) error = %v, wantErr %v", tt.identity, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMaxParticipants(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"zero means unlimited", 0, false},
		{"small", 10, false},
		{"max", 10000, false},
		{"negative", -1, true},
		{"too large", 10001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxParticipants(tt.n)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxParticipants(%d) error = %v, wantErr %v", tt.n, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTitle(t *testing.T) {
	if err := ValidateTitle(""); err != nil {
		t.Errorf("empty title should be valid, got: %v", err)
	}
	if err := ValidateTitle(strings.Repeat("a", 140)); err != nil {
		t.Errorf("140-char title should be valid, got: %v", err)
	}
	if err := ValidateTitle(strings.Repeat("a", 141)); err == nil {
		t.Error("141-char title should be rejected")
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("abc", 1, 5, "field"); err != nil {
		t.Errorf("expected valid, got: %v", err)
	}
	if err := ValidateStringLength("", 1, 5, "field"); err == nil {
		t.Error("expected too-short error")
	}
	if err := ValidateStringLength("abcdef", 1, 5, "field"); err == nil {
		t.Error("expected too-long error")
	}
	// Rune count, not byte count.
	if err := ValidateStringLength("üüü", 1, 3, "field"); err != nil {
		t.Errorf("expected rune-counted length to pass, got: %v", err)
	}
}
