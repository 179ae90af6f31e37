package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisRoomRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRoomRepository(client *redis.Client) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		prefix: "spacecast:room:",
	}
}

func (r *RedisRoomRepository) roomKey(name domain.RoomName) string {
	return r.prefix + string(name)
}

func (r *RedisRoomRepository) liveRoomsKey() string {
	return r.prefix + "live"
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	key := r.roomKey(room.Name)
	set, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set room in Redis: %w", err)
	}
	if !set {
		return domain.ErrRoomExists
	}

	if room.IsLive {
		if err := r.client.SAdd(ctx, r.liveRoomsKey(), string(room.Name)).Err(); err != nil {
			return fmt.Errorf("failed to add room to live set: %w", err)
		}
	}

	return nil
}

func (r *RedisRoomRepository) GetByName(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(name)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

func (r *RedisRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	if _, err := r.GetByName(ctx, room.Name); err != nil {
		return err
	}

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := r.client.Set(ctx, r.roomKey(room.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update room in Redis: %w", err)
	}

	liveKey := r.liveRoomsKey()
	if room.IsLive && !room.Ended() {
		if err := r.client.SAdd(ctx, liveKey, string(room.Name)).Err(); err != nil {
			return fmt.Errorf("failed to add room to live set: %w", err)
		}
	} else {
		if err := r.client.SRem(ctx, liveKey, string(room.Name)).Err(); err != nil {
			return fmt.Errorf("failed to remove room from live set: %w", err)
		}
	}

	return nil
}

func (r *RedisRoomRepository) ListLive(ctx context.Context) ([]*domain.Room, error) {
	names, err := r.client.SMembers(ctx, r.liveRoomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get live rooms from Redis: %w", err)
	}

	var rooms []*domain.Room
	for _, name := range names {
		room, err := r.GetByName(ctx, domain.RoomName(name))
		if err != nil {
			// Skip rooms that no longer exist
			continue
		}
		if room.IsLive && !room.Ended() {
			rooms = append(rooms, room)
		}
	}

	return rooms, nil
}
