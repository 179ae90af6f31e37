package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateSessionID generates a participant session row id.
func GenerateSessionID() string {
	return uuid.NewString()
}

// GenerateRoomSID generates an opaque room session id.
func GenerateRoomSID() string {
	return "RM_" + uuid.NewString()
}

// GenerateIdentity generates a transport identity string for clients that
// join without a wallet binding.
func GenerateIdentity(displayName string) string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%s-%s", slugify(displayName), hex.EncodeToString(b))
}

// GenerateRequestID generates a request correlation id.
func GenerateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "req_" + hex.EncodeToString(b)
}
