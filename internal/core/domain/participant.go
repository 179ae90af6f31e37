package domain

import "time"

type UserID string
type WalletAddress string
type SessionID string

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleParticipant, RoleViewer:
		return true
	}
	return false
}

// ClampRole downgrades requested to ceiling when it exceeds it. Host requests
// are never produced by clamping; callers validate host separately.
func ClampRole(requested, ceiling Role) Role {
	if requested == RoleParticipant && ceiling == RoleViewer {
		return RoleViewer
	}
	if requested == RoleHost {
		return ceiling
	}
	return requested
}

// Participant is one durable store row per human per room per session.
// At most one IsActive row exists per (room, identity); re-joins close the
// prior row and open a new one.
type Participant struct {
	SessionID   SessionID
	Room        RoomName
	UserID      UserID        // optional backing-user id
	Wallet      WalletAddress // optional
	Identity    string        // transport identity string
	DisplayName string
	Role        Role
	JoinedAt    time.Time
	LeftAt      *time.Time
	IsActive    bool

	HandRaised   bool
	HandRaisedAt *time.Time

	RoleChangedAt *time.Time
	RoleChangedBy WalletAddress
}

// TransportIdentity is the media transport's own ephemeral participant handle.
// It has no durable identity: correlate to a Participant row by wallet or
// identity string, never trust it for role.
type TransportIdentity struct {
	SID      string
	Identity string
	Metadata string
}

// JoinCredential is a short-lived, single-room authorization artifact. It is
// used once to open the transport connection and never stored.
type JoinCredential struct {
	Token        string
	TransportURL string
	ExpiresAt    time.Time
}
