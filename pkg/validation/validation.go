package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomNameRegex enforces URL-safe room names.
	RoomNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	// IdentityRegex validates transport identity strings.
	IdentityRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

	// WalletRegex validates 0x-prefixed hex wallet addresses.
	WalletRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// ValidateRoomName validates a room name for use as a URL path segment.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if len(name) < 3 {
		return fmt.Errorf("room name must be at least 3 characters")
	}
	if len(name) > 64 {
		return fmt.Errorf("room name is too long (max 64 characters)")
	}
	if !RoomNameRegex.MatchString(name) {
		return fmt.Errorf("room name contains invalid characters (only lowercase letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 50 {
		return fmt.Errorf("display name is too long (max 50 characters)")
	}
	return nil
}

// ValidateWallet validates a wallet address. Empty is allowed; wallet is
// optional on join.
func ValidateWallet(wallet string) error {
	if wallet == "" {
		return nil
	}
	if !WalletRegex.MatchString(wallet) {
		return fmt.Errorf("invalid wallet address format")
	}
	return nil
}

// ValidateIdentity validates a transport identity string.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if len(identity) > 128 {
		return fmt.Errorf("identity is too long (max 128 characters)")
	}
	if !IdentityRegex.MatchString(identity) {
		return fmt.Errorf("identity contains invalid characters")
	}
	return nil
}

// ValidateMaxParticipants validates a room capacity. Zero means unlimited.
func ValidateMaxParticipants(n int) error {
	if n < 0 {
		return fmt.Errorf("max_participants must be >= 0")
	}
	if n > 10000 {
		return fmt.Errorf("max_participants is too large (max 10000)")
	}
	return nil
}

// ValidateTitle validates a room title.
func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > 140 {
		return fmt.Errorf("title is too long (max 140 characters)")
	}
	return nil
}

// ValidateStringLength validates generic string length bounds.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	n := utf8.RuneCountInString(s)
	if n < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if n > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
