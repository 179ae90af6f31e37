package ports

import (
	"context"
	"time"

	"spacecast/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByName(ctx context.Context, name domain.RoomName) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	ListLive(ctx context.Context) ([]*domain.Room, error)
}

// ParticipantRef identifies a human across store and transport. Wallet wins
// when both are present.
type ParticipantRef struct {
	Wallet   domain.WalletAddress
	Identity string
}

type ParticipantRepository interface {
	Insert(ctx context.Context, p *domain.Participant) error
	GetBySession(ctx context.Context, id domain.SessionID) (*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error

	// FindActive returns the most recent active row matching ref, or
	// domain.ErrParticipantNotFound.
	FindActive(ctx context.Context, room domain.RoomName, ref ParticipantRef) (*domain.Participant, error)
	ListActive(ctx context.Context, room domain.RoomName) ([]*domain.Participant, error)

	// CloseActive sets left_at and is_active=false on every active row
	// matching ref. Returns the number of rows closed.
	CloseActive(ctx context.Context, room domain.RoomName, ref ParticipantRef, leftAt time.Time) (int, error)
}
