package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/cache"

	"go.uber.org/zap"
)

// CapabilityFn reports whether a participant currently has live audio/video
// publications. PresenceSync supplies it from the live track state.
type CapabilityFn func(identity string) (hasAudio, hasVideo bool)

// RoleResolver determines a participant's display role from, in strict
// priority order: the store row matched by wallet, the store row matched by
// identity string, the role hint in the transport metadata blob, and finally
// live capability. Host is only ever assigned from the store.
type RoleResolver struct {
	room         domain.RoomName
	participants ports.ParticipantRepository
	capabilities CapabilityFn
	lookupCache  *cache.Cache
	metrics      *MetricsService
	logger       *zap.SugaredLogger
}

const roleLookupTTL = 10 * time.Second

func NewRoleResolver(
	room domain.RoomName,
	participants ports.ParticipantRepository,
	capabilities CapabilityFn,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) *RoleResolver {
	return &RoleResolver{
		room:         room,
		participants: participants,
		capabilities: capabilities,
		lookupCache:  cache.NewCache(roleLookupTTL),
		metrics:      metrics,
		logger:       logger,
	}
}

// Resolve never fails and never returns an empty role: the capability
// fallback guarantees termination.
func (r *RoleResolver) Resolve(ctx context.Context, tid domain.TransportIdentity) domain.Role {
	meta, hasMeta := domain.DecodeMetadata(tid.Metadata)

	// 1. Wallet-first store lookup.
	if hasMeta && meta.Wallet != "" {
		if role, ok := r.storeLookup(ctx, ports.ParticipantRef{Wallet: meta.Wallet}); ok {
			r.observe(ResolutionStoreWallet, tid.Identity, role)
			return role
		}
	}

	// 2. Identity-string store lookup.
	if tid.Identity != "" {
		if role, ok := r.storeLookup(ctx, ports.ParticipantRef{Identity: tid.Identity}); ok {
			r.observe(ResolutionStoreIdentity, tid.Identity, role)
			return role
		}
	}

	// 3. Transport metadata hint. DecodeMetadata already rejects host.
	if hasMeta && meta.Role != "" {
		r.observe(ResolutionMetadata, tid.Identity, meta.Role)
		return meta.Role
	}

	// 4. Capability fallback. A participant can appear on the transport
	// before its store row is visible; any live camera or mic publication
	// marks it a participant.
	role := domain.RoleViewer
	if r.capabilities != nil {
		if hasAudio, hasVideo := r.capabilities(tid.Identity); hasAudio || hasVideo {
			role = domain.RoleParticipant
		}
	}
	r.observe(ResolutionCapability, tid.Identity, role)
	return role
}

// InvalidateIdentity drops cached lookups after a role change or wallet
// binding so the next resolution hits the store.
func (r *RoleResolver) InvalidateIdentity(identity string) {
	r.lookupCache.Invalidate(r.cacheKey(ports.ParticipantRef{Identity: identity}))
}

func (r *RoleResolver) InvalidateWallet(wallet domain.WalletAddress) {
	r.lookupCache.Invalidate(r.cacheKey(ports.ParticipantRef{Wallet: wallet}))
}

func (r *RoleResolver) Close() {
	r.lookupCache.Stop()
}

func (r *RoleResolver) storeLookup(ctx context.Context, ref ports.ParticipantRef) (domain.Role, bool) {
	key := r.cacheKey(ref)
	if cached, ok := r.lookupCache.Get(key); ok {
		role := cached.(domain.Role)
		return role, role != ""
	}

	p, err := r.participants.FindActive(ctx, r.room, ref)
	if err != nil {
		if !errors.Is(err, domain.ErrParticipantNotFound) {
			r.logger.Warnw("role store lookup failed",
				"room", r.room,
				"wallet", ref.Wallet,
				"identity", ref.Identity,
				"error", err,
			)
		}
		// Cache misses too, so a flapping identity does not hammer the store.
		r.lookupCache.Set(key, domain.Role(""))
		return "", false
	}

	r.lookupCache.Set(key, p.Role)
	return p.Role, true
}

func (r *RoleResolver) cacheKey(ref ports.ParticipantRef) string {
	if ref.Wallet != "" {
		return fmt.Sprintf("%s|w|%s", r.room, ref.Wallet)
	}
	return fmt.Sprintf("%s|i|%s", r.room, ref.Identity)
}

func (r *RoleResolver) observe(source, identity string, role domain.Role) {
	if r.metrics != nil {
		r.metrics.ObserveResolution(source)
	}
	r.logger.Debugw("role resolved",
		"room", r.room,
		"identity", identity,
		"role", role,
		"source", source,
	)
}
