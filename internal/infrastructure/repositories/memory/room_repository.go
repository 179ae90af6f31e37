package memory

import (
	"context"
	"sync"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomName]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomName]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Name]; exists {
		return domain.ErrRoomExists
	}

	stored := *room
	r.rooms[room.Name] = &stored
	return nil
}

func (r *MemoryRoomRepository) GetByName(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[name]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	copied := *room
	return &copied, nil
}

func (r *MemoryRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Name]; !exists {
		return domain.ErrRoomNotFound
	}

	stored := *room
	r.rooms[room.Name] = &stored
	return nil
}

func (r *MemoryRoomRepository) ListLive(ctx context.Context) ([]*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var live []*domain.Room
	for _, room := range r.rooms {
		if room.IsLive && !room.Ended() {
			copied := *room
			live = append(live, &copied)
		}
	}

	return live, nil
}
