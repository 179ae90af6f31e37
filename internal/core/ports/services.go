package ports

import (
	"context"

	"spacecast/internal/core/domain"
)

type CreateRoomParams struct {
	Name            domain.RoomName
	HostWallet      domain.WalletAddress
	Title           string
	Category        string
	Visibility      domain.Visibility
	InviteMode      domain.InviteMode
	MaxParticipants int
}

type RoomService interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (*domain.Room, error)
	GetRoom(ctx context.Context, name domain.RoomName) (*domain.Room, error)
	ListLive(ctx context.Context) ([]*domain.Room, error)
	GoLive(ctx context.Context, name domain.RoomName, caller domain.WalletAddress) error
	EndRoom(ctx context.Context, name domain.RoomName, caller domain.WalletAddress) error
	UpdateParticipantCount(ctx context.Context, name domain.RoomName, count int) error
}

type JoinRequest struct {
	Room          domain.RoomName
	DisplayName   string
	RequestedRole domain.Role
	Wallet        domain.WalletAddress
	UserID        domain.UserID
	Identity      string // optional; generated when empty
}

type JoinResult struct {
	Credential  *domain.JoinCredential
	Participant *domain.Participant
}

type JoinService interface {
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Leave(ctx context.Context, room domain.RoomName, ref ParticipantRef) error
	RaiseHand(ctx context.Context, room domain.RoomName, ref ParticipantRef, raised bool) error
	ChangeRole(ctx context.Context, room domain.RoomName, caller domain.WalletAddress, target ParticipantRef, role domain.Role) error
}
