package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisParticipantRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisParticipantRepository(client *redis.Client) ports.ParticipantRepository {
	return &RedisParticipantRepository{
		client: client,
		prefix: "spacecast:participant:",
	}
}

func (r *RedisParticipantRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

// activeKey is the per-room set of active session IDs. Row lookups by wallet
// or identity walk this set; room sizes are small enough that a secondary
// index is not worth its invalidation complexity.
func (r *RedisParticipantRepository) activeKey(room domain.RoomName) string {
	return r.prefix + "active:" + string(room)
}

func (r *RedisParticipantRepository) Insert(ctx context.Context, p *domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(p.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set participant in Redis: %w", err)
	}

	if p.IsActive {
		if err := r.client.SAdd(ctx, r.activeKey(p.Room), string(p.SessionID)).Err(); err != nil {
			return fmt.Errorf("failed to add participant to active set: %w", err)
		}
	}

	return nil
}

func (r *RedisParticipantRepository) GetBySession(ctx context.Context, id domain.SessionID) (*domain.Participant, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}

	return &p, nil
}

func (r *RedisParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	if _, err := r.GetBySession(ctx, p.SessionID); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(p.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update participant in Redis: %w", err)
	}

	activeKey := r.activeKey(p.Room)
	if p.IsActive {
		if err := r.client.SAdd(ctx, activeKey, string(p.SessionID)).Err(); err != nil {
			return fmt.Errorf("failed to add participant to active set: %w", err)
		}
	} else {
		if err := r.client.SRem(ctx, activeKey, string(p.SessionID)).Err(); err != nil {
			return fmt.Errorf("failed to remove participant from active set: %w", err)
		}
	}

	return nil
}

func (r *RedisParticipantRepository) FindActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef) (*domain.Participant, error) {
	active, err := r.ListActive(ctx, room)
	if err != nil {
		return nil, err
	}

	var best *domain.Participant
	for _, p := range active {
		if !matchesRef(p, ref) {
			continue
		}
		if best == nil || p.JoinedAt.After(best.JoinedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrParticipantNotFound
	}

	return best, nil
}

func (r *RedisParticipantRepository) ListActive(ctx context.Context, room domain.RoomName) ([]*domain.Participant, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active participants from Redis: %w", err)
	}

	var participants []*domain.Participant
	for _, id := range ids {
		p, err := r.GetBySession(ctx, domain.SessionID(id))
		if err != nil {
			// Skip rows that no longer exist
			continue
		}
		if p.IsActive {
			participants = append(participants, p)
		}
	}

	return participants, nil
}

func (r *RedisParticipantRepository) CloseActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef, leftAt time.Time) (int, error) {
	active, err := r.ListActive(ctx, room)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, p := range active {
		if !matchesRef(p, ref) {
			continue
		}
		t := leftAt
		p.IsActive = false
		p.LeftAt = &t
		if err := r.Update(ctx, p); err != nil {
			return closed, fmt.Errorf("failed to close participant row: %w", err)
		}
		closed++
	}

	return closed, nil
}

func matchesRef(p *domain.Participant, ref ports.ParticipantRef) bool {
	if ref.Wallet != "" {
		return p.Wallet == ref.Wallet
	}
	return ref.Identity != "" && p.Identity == ref.Identity
}
