package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"go.uber.org/zap"
)

// presenceState is PresenceSync's per-participant bookkeeping. The projection
// snapshot is derived from it; readers never see this struct.
type presenceState struct {
	id     domain.TransportIdentity
	wallet domain.WalletAddress
	name   string
	role   domain.Role

	hasVideo bool
	hasAudio bool
	videoSID domain.TrackSID
	audioSID domain.TrackSID
	// screenShare enforces the singleton: at most one active publication,
	// last write wins when the transport briefly reports two.
	screenShare *domain.TrackPublication

	videoMuted bool
	audioMuted bool
	handRaised bool
}

// PresenceSync reconciles the transport's live participant view with the
// store. It is the single writer of the presence projection; UI consumers
// read atomic snapshots. Store writes ride an ordered best-effort queue so
// transport callbacks never block on the database.
type PresenceSync struct {
	room         domain.RoomName
	resolver     *RoleResolver
	participants ports.ParticipantRepository
	rooms        ports.RoomService
	logger       *zap.SugaredLogger

	botPrefix  string
	leaveGrace time.Duration

	mu          sync.Mutex
	states      map[string]*presenceState // keyed by transport identity
	leaveTimers map[string]*time.Timer    // pending grace-window row closes

	snapshot atomic.Value // []domain.PresenceEntry

	writes chan func(context.Context)
	done   chan struct{}
	once   sync.Once
}

type PresenceConfig struct {
	BotPrefix  string
	LeaveGrace time.Duration
}

func NewPresenceSync(
	room domain.RoomName,
	participants ports.ParticipantRepository,
	rooms ports.RoomService,
	metrics *MetricsService,
	cfg PresenceConfig,
	logger *zap.SugaredLogger,
) *PresenceSync {
	p := &PresenceSync{
		room:         room,
		participants: participants,
		rooms:        rooms,
		logger:       logger,
		botPrefix:    cfg.BotPrefix,
		leaveGrace:   cfg.LeaveGrace,
		states:       make(map[string]*presenceState),
		leaveTimers:  make(map[string]*time.Timer),
		writes:       make(chan func(context.Context), 64),
		done:         make(chan struct{}),
	}
	p.resolver = NewRoleResolver(room, participants, p.Capabilities, metrics, logger)
	p.snapshot.Store([]domain.PresenceEntry{})
	go p.writeLoop()
	return p
}

var _ SessionObserver = (*PresenceSync)(nil)

// Snapshot returns the current presence projection. The slice is immutable;
// every mutation replaces it wholesale, so callers may hold it indefinitely.
func (p *PresenceSync) Snapshot() []domain.PresenceEntry {
	return p.snapshot.Load().([]domain.PresenceEntry)
}

// Capabilities reports live camera/mic publications for the resolver's
// capability fallback. Muted tracks still count as published.
func (p *PresenceSync) Capabilities(identity string) (hasAudio, hasVideo bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[identity]
	if !ok {
		return false, false
	}
	return state.hasAudio, state.hasVideo
}

func (p *PresenceSync) Close() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		for identity, timer := range p.leaveTimers {
			timer.Stop()
			delete(p.leaveTimers, identity)
		}
		p.mu.Unlock()
		p.resolver.Close()
	})
}

func (p *PresenceSync) HandleConnectionState(state ConnectionState) {
	p.logger.Infow("session state changed", "room", p.room, "state", state)
	if state == StateDisconnected {
		p.mu.Lock()
		p.states = make(map[string]*presenceState)
		p.publishLocked()
		p.mu.Unlock()
	}
}

// HandleRosterReplaced rebuilds the projection from the transport's
// authoritative post-reconnect roster. Entries absent from the roster are
// dropped; their pre-reconnect state is not trusted.
func (p *PresenceSync) HandleRosterReplaced(roster []domain.TransportIdentity) {
	present := make(map[string]bool, len(roster))
	for _, id := range roster {
		present[id.Identity] = true
	}

	p.mu.Lock()
	for identity := range p.states {
		if !present[identity] {
			delete(p.states, identity)
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	for _, id := range roster {
		p.HandleParticipantConnected(id)
	}
}

func (p *PresenceSync) HandleParticipantConnected(id domain.TransportIdentity) {
	if p.isBot(id.Identity) {
		p.logger.Debugw("ignoring service participant",
			"room", p.room, "identity", id.Identity)
		return
	}

	role := p.resolver.Resolve(context.Background(), id)
	meta, _ := domain.DecodeMetadata(id.Metadata)

	p.mu.Lock()
	// Reconnect flap: cancel the pending store-row close.
	if timer, ok := p.leaveTimers[id.Identity]; ok {
		timer.Stop()
		delete(p.leaveTimers, id.Identity)
	}
	state, ok := p.states[id.Identity]
	if ok {
		state.id = id
		state.role = role
	} else {
		state = &presenceState{id: id, role: role, wallet: meta.Wallet}
		p.states[id.Identity] = state
	}
	count := p.activeCountLocked()
	p.publishLocked()
	p.mu.Unlock()

	// Hydrate display name and hand flag from the store off the event path.
	identity := id.Identity
	wallet := meta.Wallet
	p.enqueueWrite(func(ctx context.Context) {
		row, err := p.participants.FindActive(ctx, p.room, ports.ParticipantRef{Wallet: wallet, Identity: identity})
		if err != nil {
			return
		}
		p.mu.Lock()
		if state, ok := p.states[identity]; ok {
			state.name = row.DisplayName
			state.handRaised = row.HandRaised
			if state.wallet == "" {
				state.wallet = row.Wallet
			}
			p.publishLocked()
		}
		p.mu.Unlock()
	})
	p.enqueueWrite(func(ctx context.Context) {
		if p.rooms != nil {
			if err := p.rooms.UpdateParticipantCount(ctx, p.room, count); err != nil {
				p.logger.Debugw("failed to update participant count",
					"room", p.room, "error", err)
			}
		}
	})
}

// HandleParticipantDisconnected removes the projection entry immediately but
// defers the store row close by the grace window to absorb reconnect flaps.
func (p *PresenceSync) HandleParticipantDisconnected(id domain.TransportIdentity) {
	if p.isBot(id.Identity) {
		return
	}

	p.mu.Lock()
	state, ok := p.states[id.Identity]
	if !ok {
		p.mu.Unlock()
		return
	}
	wallet := state.wallet
	delete(p.states, id.Identity)
	count := p.activeCountLocked()
	p.publishLocked()
	p.mu.Unlock()

	identity := id.Identity
	closeRow := func() {
		p.mu.Lock()
		delete(p.leaveTimers, identity)
		_, rejoined := p.states[identity]
		p.mu.Unlock()
		if rejoined {
			return
		}
		p.enqueueWrite(func(ctx context.Context) {
			ref := ports.ParticipantRef{Wallet: wallet, Identity: identity}
			if _, err := p.participants.CloseActive(ctx, p.room, ref, time.Now()); err != nil {
				// Best effort. Presence correctness does not depend on it.
				p.logger.Warnw("failed to close participant row",
					"room", p.room, "identity", identity, "error", err)
			}
		})
	}
	if p.leaveGrace > 0 {
		// Tracked so reconnects and Close can cancel the pending close.
		timer := time.AfterFunc(p.leaveGrace, closeRow)
		p.mu.Lock()
		if prev, ok := p.leaveTimers[identity]; ok {
			prev.Stop()
		}
		p.leaveTimers[identity] = timer
		p.mu.Unlock()
	} else {
		closeRow()
	}

	p.enqueueWrite(func(ctx context.Context) {
		if p.rooms != nil {
			if err := p.rooms.UpdateParticipantCount(ctx, p.room, count); err != nil {
				p.logger.Debugw("failed to update participant count",
					"room", p.room, "error", err)
			}
		}
	})
}

// HandleMetadataChanged re-resolves the role so a late-arriving wallet
// binding upgrades the entry mid-session.
func (p *PresenceSync) HandleMetadataChanged(id domain.TransportIdentity) {
	if p.isBot(id.Identity) {
		return
	}

	p.resolver.InvalidateIdentity(id.Identity)
	meta, hasMeta := domain.DecodeMetadata(id.Metadata)
	if hasMeta && meta.Wallet != "" {
		p.resolver.InvalidateWallet(meta.Wallet)
	}
	role := p.resolver.Resolve(context.Background(), id)

	p.mu.Lock()
	if state, ok := p.states[id.Identity]; ok {
		state.id = id
		state.role = role
		if hasMeta && meta.Wallet != "" {
			state.wallet = meta.Wallet
		}
		p.publishLocked()
	}
	p.mu.Unlock()
}

func (p *PresenceSync) HandleTrackPublished(id domain.TransportIdentity, pub domain.TrackPublication) {
	if p.isBot(id.Identity) {
		return
	}

	p.mu.Lock()
	state, ok := p.states[id.Identity]
	if !ok {
		// Track event beat the participant event; synthesize the entry.
		state = &presenceState{id: id, role: domain.RoleViewer}
		p.states[id.Identity] = state
	}
	switch pub.Source {
	case domain.TrackCamera:
		state.hasVideo = true
		state.videoSID = pub.SID
		state.videoMuted = pub.Muted
	case domain.TrackMicrophone:
		state.hasAudio = true
		state.audioSID = pub.SID
		state.audioMuted = pub.Muted
	case domain.TrackScreenShare:
		if state.screenShare != nil && state.screenShare.SID != pub.SID {
			p.logger.Debugw("replacing stale screen share publication",
				"room", p.room, "identity", id.Identity,
				"stale", state.screenShare.SID, "current", pub.SID)
		}
		current := pub
		state.screenShare = &current
	}
	p.mu.Unlock()

	// A first camera/mic publication can flip viewer to participant through
	// the capability fallback.
	p.reresolve(id)
}

func (p *PresenceSync) HandleTrackUnpublished(id domain.TransportIdentity, pub domain.TrackPublication) {
	if p.isBot(id.Identity) {
		return
	}

	p.mu.Lock()
	state, ok := p.states[id.Identity]
	if !ok {
		p.mu.Unlock()
		return
	}
	switch pub.Source {
	case domain.TrackCamera:
		state.hasVideo = false
		state.videoSID = ""
		state.videoMuted = false
	case domain.TrackMicrophone:
		state.hasAudio = false
		state.audioSID = ""
		state.audioMuted = false
	case domain.TrackScreenShare:
		// Unpublish of a stale SID must not clear the current one.
		if state.screenShare != nil && state.screenShare.SID == pub.SID {
			state.screenShare = nil
		}
	}
	p.publishLocked()
	p.mu.Unlock()
}

func (p *PresenceSync) HandleTrackMuted(id domain.TransportIdentity, sid domain.TrackSID, muted bool) {
	if p.isBot(id.Identity) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id.Identity]
	if !ok {
		return
	}
	// Mute does not remove the publication; capability inference still counts
	// a muted device as published.
	switch {
	case state.audioSID != "" && state.audioSID == sid:
		state.audioMuted = muted
	case state.videoSID != "" && state.videoSID == sid:
		state.videoMuted = muted
	case state.screenShare != nil && state.screenShare.SID == sid:
		state.screenShare.Muted = muted
	}
	p.publishLocked()
}

// SetHandRaised mirrors the store-side hand flag into the projection.
func (p *PresenceSync) SetHandRaised(identity string, raised bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.states[identity]; ok {
		state.handRaised = raised
		p.publishLocked()
	}
}

func (p *PresenceSync) reresolve(id domain.TransportIdentity) {
	role := p.resolver.Resolve(context.Background(), id)
	p.mu.Lock()
	if state, ok := p.states[id.Identity]; ok {
		state.role = role
	}
	p.publishLocked()
	p.mu.Unlock()
}

func (p *PresenceSync) isBot(identity string) bool {
	return p.botPrefix != "" && strings.HasPrefix(identity, p.botPrefix)
}

func (p *PresenceSync) activeCountLocked() int {
	return len(p.states)
}

// publishLocked rebuilds and atomically replaces the snapshot. Callers hold
// p.mu; readers never block on it.
func (p *PresenceSync) publishLocked() {
	entries := make([]domain.PresenceEntry, 0, len(p.states))
	for _, s := range p.states {
		entries = append(entries, domain.PresenceEntry{
			Identity:       s.id.Identity,
			Wallet:         s.wallet,
			DisplayName:    s.name,
			Role:           s.role,
			HasVideo:       s.hasVideo,
			HasAudio:       s.hasAudio,
			VideoMuted:     s.videoMuted,
			AudioMuted:     s.audioMuted,
			HasScreenShare: s.screenShare != nil,
			HandRaised:     s.handRaised,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Role != entries[j].Role {
			return roleRank(entries[i].Role) < roleRank(entries[j].Role)
		}
		return entries[i].Identity < entries[j].Identity
	})
	p.snapshot.Store(entries)
}

func roleRank(r domain.Role) int {
	switch r {
	case domain.RoleHost:
		return 0
	case domain.RoleParticipant:
		return 1
	default:
		return 2
	}
}

func (p *PresenceSync) enqueueWrite(fn func(context.Context)) {
	select {
	case p.writes <- fn:
	case <-p.done:
	default:
		p.logger.Warnw("presence write queue full, dropping write", "room", p.room)
	}
}

func (p *PresenceSync) writeLoop() {
	for {
		select {
		case fn := <-p.writes:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			fn(ctx)
			cancel()
		case <-p.done:
			return
		}
	}
}
