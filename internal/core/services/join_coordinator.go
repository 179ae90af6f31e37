package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/retry"
	"spacecast/pkg/tracing"
	"spacecast/pkg/utils"
	"spacecast/pkg/validation"

	"go.uber.org/zap"
)

// credentialRetry bounds retries against a flapping credential service.
// Validation failures are terminal and never retried.
var credentialRetry = retry.Config{
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// JoinCoordinator validates join requests, mints credentials and maintains
// the Participant rows with re-join semantics. Store writes are serialized
// per participant identity so the close-stale-row / open-new-row sequence
// cannot lose updates.
type JoinCoordinator struct {
	rooms        ports.RoomRepository
	participants ports.ParticipantRepository
	credentials  ports.CredentialService
	metrics      *MetricsService
	logger       *zap.SugaredLogger

	locks sync.Map // identity key -> *sync.Mutex
}

func NewJoinCoordinator(
	rooms ports.RoomRepository,
	participants ports.ParticipantRepository,
	credentials ports.CredentialService,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) *JoinCoordinator {
	return &JoinCoordinator{
		rooms:        rooms,
		participants: participants,
		credentials:  credentials,
		metrics:      metrics,
		logger:       logger,
	}
}

var _ ports.JoinService = (*JoinCoordinator)(nil)

func (c *JoinCoordinator) Join(ctx context.Context, req ports.JoinRequest) (*ports.JoinResult, error) {
	ctx, span := tracing.TraceJoin(ctx, string(req.Room), req.Identity)
	defer span.End()

	start := time.Now()

	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.metrics.RecordJoinFailure("invalid_input")
		return nil, err
	}
	if err := validation.ValidateWallet(string(req.Wallet)); err != nil {
		c.metrics.RecordJoinFailure("invalid_input")
		return nil, err
	}

	room, err := c.rooms.GetByName(ctx, req.Room)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.metrics.RecordJoinFailure("room_not_found")
		return nil, err
	}
	if room.Ended() {
		c.metrics.RecordJoinFailure("room_ended")
		return nil, domain.ErrRoomEnded
	}

	isHost := req.Wallet != "" && req.Wallet == room.HostWallet
	if !room.IsLive && !isHost {
		// Viewers retry after the go-live broadcast, they do not poll.
		c.metrics.RecordJoinFailure("room_not_live")
		return nil, domain.ErrRoomNotLive
	}

	role := req.RequestedRole
	if !role.Valid() {
		role = domain.RoleViewer
	}
	if isHost {
		role = domain.RoleHost
	} else {
		// Invite ceiling downgrades silently.
		role = domain.ClampRole(role, room.RoleCeiling())
	}

	if room.MaxParticipants > 0 {
		active, err := c.participants.ListActive(ctx, req.Room)
		if err != nil {
			return nil, fmt.Errorf("failed to count participants: %w", err)
		}
		if len(active) >= room.MaxParticipants {
			c.metrics.RecordJoinFailure("at_capacity")
			return nil, domain.ErrRoomAtCapacity
		}
	}

	identity := req.Identity
	if identity == "" {
		identity = utils.GenerateIdentity(req.DisplayName)
	}
	if err := validation.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	meta := domain.ParticipantMetadata{Wallet: req.Wallet, Role: role}
	if role == domain.RoleHost {
		// Host is store-authoritative and never asserted over the transport.
		meta.Role = domain.RoleParticipant
	}

	cred, err := retry.DoWithResult(ctx, credentialRetry, func() (*domain.JoinCredential, error) {
		return c.credentials.RequestJoinCredential(ctx, req.Room, identity, role, meta)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		c.metrics.RecordJoinFailure("credential_unavailable")
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialUnavailable, err)
	}

	participant, err := c.upsertParticipant(ctx, req, room, identity, role)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.metrics.RecordJoinFailure("store_error")
		return nil, err
	}

	c.metrics.RecordParticipantJoined(req.Room, time.Since(start))
	c.logger.Infow("participant joined",
		"room", req.Room,
		"identity", identity,
		"role", role,
		"wallet", utils.ShortenWallet(string(req.Wallet)),
	)

	return &ports.JoinResult{Credential: cred, Participant: participant}, nil
}

// upsertParticipant closes any stale active row for the same identity and
// opens a new one. At most one is_active row may exist per (room, identity).
func (c *JoinCoordinator) upsertParticipant(
	ctx context.Context,
	req ports.JoinRequest,
	room *domain.Room,
	identity string,
	role domain.Role,
) (*domain.Participant, error) {
	ref := ports.ParticipantRef{Wallet: req.Wallet, Identity: identity}

	unlock := c.lockIdentity(req.Room, ref)
	defer unlock()

	now := time.Now()
	if closed, err := c.participants.CloseActive(ctx, req.Room, ref, now); err != nil {
		return nil, fmt.Errorf("failed to close stale participant rows: %w", err)
	} else if closed > 0 {
		c.logger.Debugw("closed stale participant rows",
			"room", req.Room, "identity", identity, "count", closed)
	}

	participant := &domain.Participant{
		SessionID:   domain.SessionID(utils.GenerateSessionID()),
		Room:        req.Room,
		UserID:      req.UserID,
		Wallet:      req.Wallet,
		Identity:    identity,
		DisplayName: utils.SanitizeString(req.DisplayName),
		Role:        role,
		JoinedAt:    now,
		IsActive:    true,
	}
	if err := c.participants.Insert(ctx, participant); err != nil {
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}
	return participant, nil
}

// Leave always succeeds locally; store errors are logged and swallowed.
func (c *JoinCoordinator) Leave(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef) error {
	unlock := c.lockIdentity(room, ref)
	defer unlock()

	if _, err := c.participants.CloseActive(ctx, room, ref, time.Now()); err != nil {
		c.logger.Warnw("failed to close participant row on leave",
			"room", room, "identity", ref.Identity, "error", err)
		return nil
	}
	c.metrics.RecordParticipantLeft(room)
	return nil
}

func (c *JoinCoordinator) RaiseHand(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef, raised bool) error {
	unlock := c.lockIdentity(room, ref)
	defer unlock()

	p, err := c.participants.FindActive(ctx, room, ref)
	if err != nil {
		return err
	}
	if p.Role == domain.RoleHost {
		// Hosts have the floor already.
		return nil
	}

	p.HandRaised = raised
	if raised {
		now := time.Now()
		p.HandRaisedAt = &now
	} else {
		p.HandRaisedAt = nil
	}
	return c.participants.Update(ctx, p)
}

// ChangeRole promotes or demotes a participant. Host-only; host role itself
// is never grantable here.
func (c *JoinCoordinator) ChangeRole(ctx context.Context, room domain.RoomName, caller domain.WalletAddress, target ports.ParticipantRef, role domain.Role) error {
	if role != domain.RoleParticipant && role != domain.RoleViewer {
		return fmt.Errorf("role %q is not grantable", role)
	}

	r, err := c.rooms.GetByName(ctx, room)
	if err != nil {
		return err
	}
	if r.HostWallet != caller {
		return domain.ErrNotHost
	}

	unlock := c.lockIdentity(room, target)
	defer unlock()

	p, err := c.participants.FindActive(ctx, room, target)
	if err != nil {
		return err
	}
	if p.Role == role {
		return nil
	}

	now := time.Now()
	p.Role = role
	p.RoleChangedAt = &now
	p.RoleChangedBy = caller
	p.HandRaised = false
	p.HandRaisedAt = nil
	if err := c.participants.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant role: %w", err)
	}

	c.logger.Infow("participant role changed",
		"room", room, "identity", p.Identity, "role", role)
	return nil
}

func (c *JoinCoordinator) lockIdentity(room domain.RoomName, ref ports.ParticipantRef) func() {
	key := string(room) + "|" + string(ref.Wallet)
	if ref.Wallet == "" {
		key = string(room) + "|" + ref.Identity
	}
	muIface, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
