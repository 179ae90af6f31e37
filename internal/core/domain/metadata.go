package domain

import (
	"encoding/base64"
	"encoding/json"
)

const metadataVersion = 1

// ParticipantMetadata is the versioned schema for the opaque blob a joining
// client attaches to its transport identity. The asserted role is a hint only;
// the resolver never promotes it to host.
type ParticipantMetadata struct {
	Version int           `json:"v"`
	Wallet  WalletAddress `json:"wallet,omitempty"`
	Role    Role          `json:"role,omitempty"`
}

func EncodeMetadata(m ParticipantMetadata) string {
	m.Version = metadataVersion
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeMetadata decodes defensively: unknown versions, malformed payloads and
// invalid asserted roles are treated as absent so the resolver chain falls
// through instead of failing.
func DecodeMetadata(raw string) (ParticipantMetadata, bool) {
	if raw == "" {
		return ParticipantMetadata{}, false
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Tolerate clients that attach plain JSON.
		data = []byte(raw)
	}
	var m ParticipantMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return ParticipantMetadata{}, false
	}
	if m.Version > metadataVersion {
		return ParticipantMetadata{}, false
	}
	if m.Role != "" && !m.Role.Valid() {
		m.Role = ""
	}
	if m.Role == RoleHost {
		// Host is never accepted from transport metadata.
		m.Role = ""
	}
	if m.Wallet == "" && m.Role == "" {
		return ParticipantMetadata{}, false
	}
	return m, true
}
