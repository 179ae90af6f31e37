package domain

import (
	"time"
)

type RoomName string
type RoomSID string

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// InviteMode caps the role a join link may request. Host is never clamped.
type InviteMode string

const (
	InviteOpen       InviteMode = "open"
	InviteViewerOnly InviteMode = "viewer_only"
)

type Room struct {
	Name             RoomName
	SID              RoomSID
	HostWallet       WalletAddress
	Title            string
	Category         string
	Visibility       Visibility
	InviteMode       InviteMode
	IsLive           bool
	MaxParticipants  int // 0 = unlimited
	ParticipantCount int // derived, eventually consistent
	CreatedAt        time.Time
	UpdatedAt        time.Time // stamped on every state mutation
	EndedAt          *time.Time
}

// Ended rooms are soft-ended: kept in the store, never deleted.
func (r *Room) Ended() bool {
	return r.EndedAt != nil
}

// RoleCeiling returns the highest role a non-host join may request.
func (r *Room) RoleCeiling() Role {
	if r.InviteMode == InviteViewerOnly {
		return RoleViewer
	}
	return RoleParticipant
}

// RoomState is the broadcast payload for room lifecycle changes.
type RoomState struct {
	Name             RoomName  `json:"name"`
	IsLive           bool      `json:"is_live"`
	ParticipantCount int       `json:"participant_count"`
	ChangedAt        time.Time `json:"changed_at"`
}
