package domain

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMetadata(t *testing.T) {
	raw := EncodeMetadata(ParticipantMetadata{
		Wallet: "0x1234567890abcdef1234567890abcdef12345678",
		Role:   RoleParticipant,
	})
	require.NotEmpty(t, raw)

	m, ok := DecodeMetadata(raw)
	require.True(t, ok)
	assert.Equal(t, WalletAddress("0x1234567890abcdef1234567890abcdef12345678"), m.Wallet)
	assert.Equal(t, RoleParticipant, m.Role)
	assert.Equal(t, 1, m.Version)
}

func TestDecodeMetadata_Defensive(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
	}{
		{"empty", "", false},
		{"garbage", "!!!not-base64-or-json!!!", false},
		{"base64 of garbage", base64.StdEncoding.EncodeToString([]byte("not json")), false},
		{"empty payload", base64.StdEncoding.EncodeToString([]byte(`{}`)), false},
		{"future version", base64.StdEncoding.EncodeToString([]byte(`{"v":99,"role":"viewer"}`)), false},
		{"plain json tolerated", `{"v":1,"role":"viewer"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeMetadata(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestDecodeMetadata_HostRoleNeverAccepted(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte(`{"v":1,"role":"host","wallet":"0xabc"}`))

	m, ok := DecodeMetadata(raw)
	require.True(t, ok)
	assert.Empty(t, m.Role)
	assert.Equal(t, WalletAddress("0xabc"), m.Wallet)
}

func TestDecodeMetadata_InvalidRoleDropped(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte(`{"v":1,"role":"superadmin"}`))

	_, ok := DecodeMetadata(raw)
	// Role drops to empty and there is no wallet left, so the blob is absent.
	assert.False(t, ok)
}

func TestClampRole(t *testing.T) {
	tests := []struct {
		name      string
		requested Role
		ceiling   Role
		want      Role
	}{
		{"participant under participant ceiling", RoleParticipant, RoleParticipant, RoleParticipant},
		{"participant clamped to viewer", RoleParticipant, RoleViewer, RoleViewer},
		{"viewer stays viewer", RoleViewer, RoleParticipant, RoleViewer},
		{"host request clamps to ceiling", RoleHost, RoleParticipant, RoleParticipant},
		{"host request clamps to viewer", RoleHost, RoleViewer, RoleViewer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampRole(tt.requested, tt.ceiling))
		})
	}
}

func TestRoleCeiling(t *testing.T) {
	open := &Room{InviteMode: InviteOpen}
	assert.Equal(t, RoleParticipant, open.RoleCeiling())

	viewerOnly := &Room{InviteMode: InviteViewerOnly}
	assert.Equal(t, RoleViewer, viewerOnly.RoleCeiling())
}
