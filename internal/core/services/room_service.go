package services

import (
	"context"
	"fmt"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/retry"
	"spacecast/pkg/utils"
	"spacecast/pkg/validation"

	"go.uber.org/zap"
)

type roomService struct {
	rooms    ports.RoomRepository
	egress   ports.EgressService
	notifier ports.RoomNotifier
	metrics  *MetricsService
	logger   *zap.SugaredLogger
}

func NewRoomService(
	rooms ports.RoomRepository,
	egress ports.EgressService,
	notifier ports.RoomNotifier,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) ports.RoomService {
	return &roomService{
		rooms:    rooms,
		egress:   egress,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, params ports.CreateRoomParams) (*domain.Room, error) {
	if err := validation.ValidateRoomName(string(params.Name)); err != nil {
		return nil, err
	}
	if err := validation.ValidateTitle(params.Title); err != nil {
		return nil, err
	}
	if err := validation.ValidateMaxParticipants(params.MaxParticipants); err != nil {
		return nil, err
	}

	visibility := params.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	inviteMode := params.InviteMode
	if inviteMode == "" {
		inviteMode = domain.InviteOpen
	}

	now := time.Now()
	room := &domain.Room{
		Name:            params.Name,
		SID:             domain.RoomSID(utils.GenerateRoomSID()),
		HostWallet:      params.HostWallet,
		Title:           params.Title,
		Category:        params.Category,
		Visibility:      visibility,
		InviteMode:      inviteMode,
		MaxParticipants: params.MaxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	s.logger.Infow("room created",
		"room", room.Name,
		"host", utils.ShortenWallet(string(room.HostWallet)),
		"visibility", room.Visibility,
	)
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, name domain.RoomName) (*domain.Room, error) {
	return s.rooms.GetByName(ctx, name)
}

func (s *roomService) ListLive(ctx context.Context) ([]*domain.Room, error) {
	return s.rooms.ListLive(ctx)
}

// GoLive flips the room live and broadcasts the state change before
// returning, so waiting viewers see the signal before their join retries.
func (s *roomService) GoLive(ctx context.Context, name domain.RoomName, caller domain.WalletAddress) error {
	room, err := s.rooms.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if room.HostWallet != caller {
		return domain.ErrNotHost
	}
	if room.Ended() {
		return domain.ErrRoomEnded
	}
	if room.IsLive {
		return nil
	}

	if s.egress != nil {
		err := retry.Do(ctx, retry.DefaultConfig(), func() error {
			return s.egress.StartBroadcast(ctx, name)
		})
		if err != nil {
			return fmt.Errorf("failed to start broadcast: %w", err)
		}
	}

	room.IsLive = true
	room.UpdatedAt = time.Now()
	if err := s.rooms.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	s.broadcast(room)
	s.metrics.RecordRoomLive(name)
	s.logger.Infow("room went live", "room", name)
	return nil
}

// EndRoom soft-ends: the row is marked ended and kept.
func (s *roomService) EndRoom(ctx context.Context, name domain.RoomName, caller domain.WalletAddress) error {
	room, err := s.rooms.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if room.HostWallet != caller {
		return domain.ErrNotHost
	}
	if room.Ended() {
		return nil
	}

	wasLive := room.IsLive
	if s.egress != nil && wasLive {
		// Best effort: the room ends regardless of the egress teardown.
		if err := s.egress.StopBroadcast(ctx, name); err != nil {
			s.logger.Warnw("failed to stop broadcast", "room", name, "error", err)
		}
	}

	now := time.Now()
	room.IsLive = false
	room.EndedAt = &now
	room.UpdatedAt = now
	if err := s.rooms.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	s.broadcast(room)
	if wasLive {
		s.metrics.RecordRoomEnded(name)
	}
	s.logger.Infow("room ended", "room", name)
	return nil
}

// UpdateParticipantCount is eventually consistent, fed from presence events.
func (s *roomService) UpdateParticipantCount(ctx context.Context, name domain.RoomName, count int) error {
	room, err := s.rooms.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if room.ParticipantCount == count {
		return nil
	}
	room.ParticipantCount = count
	room.UpdatedAt = time.Now()
	if err := s.rooms.Update(ctx, room); err != nil {
		return fmt.Errorf("failed to update participant count: %w", err)
	}
	s.broadcast(room)
	return nil
}

func (s *roomService) broadcast(room *domain.Room) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastRoomState(domain.RoomState{
		Name:             room.Name,
		IsLive:           room.IsLive,
		ParticipantCount: room.ParticipantCount,
		ChangedAt:        time.Now(),
	})
}
