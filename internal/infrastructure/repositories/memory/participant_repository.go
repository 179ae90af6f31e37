package memory

import (
	"context"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
)

type MemoryParticipantRepository struct {
	rows map[domain.SessionID]*domain.Participant
	mu   sync.RWMutex
}

func NewMemoryParticipantRepository() ports.ParticipantRepository {
	return &MemoryParticipantRepository{
		rows: make(map[domain.SessionID]*domain.Participant),
	}
}

func (r *MemoryParticipantRepository) Insert(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *p
	r.rows[p.SessionID] = &stored
	return nil
}

func (r *MemoryParticipantRepository) GetBySession(ctx context.Context, id domain.SessionID) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.rows[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}

	copied := *p
	return &copied, nil
}

func (r *MemoryParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[p.SessionID]; !exists {
		return domain.ErrParticipantNotFound
	}

	stored := *p
	r.rows[p.SessionID] = &stored
	return nil
}

// FindActive returns the most recently joined active row matching ref.
// Wallet match wins over identity-string match.
func (r *MemoryParticipantRepository) FindActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.Participant
	for _, p := range r.rows {
		if !p.IsActive || p.Room != room || !matches(p, ref) {
			continue
		}
		if best == nil || p.JoinedAt.After(best.JoinedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrParticipantNotFound
	}

	copied := *best
	return &copied, nil
}

func (r *MemoryParticipantRepository) ListActive(ctx context.Context, room domain.RoomName) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*domain.Participant
	for _, p := range r.rows {
		if p.IsActive && p.Room == room {
			copied := *p
			active = append(active, &copied)
		}
	}

	return active, nil
}

func (r *MemoryParticipantRepository) CloseActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef, leftAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := 0
	for _, p := range r.rows {
		if !p.IsActive || p.Room != room || !matches(p, ref) {
			continue
		}
		t := leftAt
		p.IsActive = false
		p.LeftAt = &t
		closed++
	}

	return closed, nil
}

func matches(p *domain.Participant, ref ports.ParticipantRef) bool {
	if ref.Wallet != "" {
		return p.Wallet == ref.Wallet
	}
	return ref.Identity != "" && p.Identity == ref.Identity
}
