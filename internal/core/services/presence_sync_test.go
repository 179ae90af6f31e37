package services

import (
	"context"
	"testing"
	"time"

	"spacecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPresence(t *testing.T, repo *fakeParticipantRepo, cfg PresenceConfig) *PresenceSync {
	t.Helper()
	p := NewPresenceSync("demo", repo, nil, NewMetricsService(), cfg, zap.NewNop().Sugar())
	t.Cleanup(p.Close)
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func entryFor(p *PresenceSync, identity string) (domain.PresenceEntry, bool) {
	for _, e := range p.Snapshot() {
		if e.Identity == identity {
			return e, true
		}
	}
	return domain.PresenceEntry{}, false
}

func TestPresence_ParticipantLifecycle(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})

	entry, ok := entryFor(p, "alice-1234")
	require.True(t, ok)
	assert.Equal(t, domain.RoleViewer, entry.Role)

	p.HandleParticipantDisconnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})
	_, ok = entryFor(p, "alice-1234")
	assert.False(t, ok, "entry removed immediately on disconnect")
}

func TestPresence_DuplicateEventsIdempotent(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)
	p.HandleParticipantConnected(id)
	assert.Len(t, p.Snapshot(), 1)

	p.HandleParticipantDisconnected(id)
	p.HandleParticipantDisconnected(id)
	assert.Empty(t, p.Snapshot())
}

func TestPresence_BotsFiltered(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{BotPrefix: "svc:"})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "svc:recorder"})
	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_2", Identity: "alice-1234"})

	snapshot := p.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "alice-1234", snapshot[0].Identity)
}

func TestPresence_StoreHydration(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.rows = append(repo.rows, &domain.Participant{
		SessionID:   "s1",
		Room:        "demo",
		Identity:    "alice-1234",
		DisplayName: "Alice",
		Role:        domain.RoleParticipant,
		HandRaised:  true,
		JoinedAt:    time.Now(),
		IsActive:    true,
	})
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})

	waitFor(t, func() bool {
		entry, ok := entryFor(p, "alice-1234")
		return ok && entry.DisplayName == "Alice" && entry.HandRaised
	})

	entry, _ := entryFor(p, "alice-1234")
	assert.Equal(t, domain.RoleParticipant, entry.Role)
}

func TestPresence_TrackEventBeforeParticipantEvent(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_1", Source: domain.TrackMicrophone})

	// The synthesized entry is already a participant via capability inference.
	waitFor(t, func() bool {
		entry, ok := entryFor(p, "alice-1234")
		return ok && entry.HasAudio && entry.Role == domain.RoleParticipant
	})
}

func TestPresence_ScreenShareSingleton(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)

	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_old", Source: domain.TrackScreenShare})
	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_new", Source: domain.TrackScreenShare})

	entry, _ := entryFor(p, "alice-1234")
	assert.True(t, entry.HasScreenShare)

	// The stale unpublish arrives late; the current share survives it.
	p.HandleTrackUnpublished(id, domain.TrackPublication{SID: "TR_old", Source: domain.TrackScreenShare})
	entry, _ = entryFor(p, "alice-1234")
	assert.True(t, entry.HasScreenShare)

	p.HandleTrackUnpublished(id, domain.TrackPublication{SID: "TR_new", Source: domain.TrackScreenShare})
	entry, _ = entryFor(p, "alice-1234")
	assert.False(t, entry.HasScreenShare)
}

func TestPresence_MuteKeepsPublication(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_1", Source: domain.TrackMicrophone})
	p.HandleTrackMuted(id, "TR_1", true)

	entry, _ := entryFor(p, "alice-1234")
	assert.True(t, entry.HasAudio, "muted still counts as published")
	assert.True(t, entry.AudioMuted)

	hasAudio, _ := p.Capabilities("alice-1234")
	assert.True(t, hasAudio)

	p.HandleTrackMuted(id, "TR_1", false)
	entry, _ = entryFor(p, "alice-1234")
	assert.False(t, entry.AudioMuted)
}

func TestPresence_CameraMuteSurfaces(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_cam", Source: domain.TrackCamera})
	p.HandleTrackPublished(id, domain.TrackPublication{SID: "TR_mic", Source: domain.TrackMicrophone})

	p.HandleTrackMuted(id, "TR_cam", true)

	entry, _ := entryFor(p, "alice-1234")
	assert.True(t, entry.HasVideo)
	assert.True(t, entry.VideoMuted)
	assert.False(t, entry.AudioMuted, "camera mute must not bleed into the mic")

	// Unpublish clears the mute along with the publication.
	p.HandleTrackUnpublished(id, domain.TrackPublication{SID: "TR_cam", Source: domain.TrackCamera})
	entry, _ = entryFor(p, "alice-1234")
	assert.False(t, entry.HasVideo)
	assert.False(t, entry.VideoMuted)
}

func TestPresence_LeaveGraceAbsorbsFlap(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.activeRow("demo", "alice-1234", domain.RoleViewer, "")
	p := newTestPresence(t, repo, PresenceConfig{LeaveGrace: 50 * time.Millisecond})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)
	p.HandleParticipantDisconnected(id)
	// Rejoin inside the grace window.
	p.HandleParticipantConnected(id)

	time.Sleep(120 * time.Millisecond)

	active, err := repo.ListActive(context.Background(), "demo")
	require.NoError(t, err)
	assert.Len(t, active, 1, "store row must survive a reconnect flap")
}

func TestPresence_LeaveClosesRowAfterGrace(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.activeRow("demo", "alice-1234", domain.RoleViewer, "")
	p := newTestPresence(t, repo, PresenceConfig{LeaveGrace: 20 * time.Millisecond})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)
	p.HandleParticipantDisconnected(id)

	waitFor(t, func() bool {
		active, _ := repo.ListActive(context.Background(), "demo")
		return len(active) == 0
	})
}

func TestPresence_CloseCancelsLeaveGrace(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.activeRow("demo", "alice-1234", domain.RoleViewer, "")
	p := newTestPresence(t, repo, PresenceConfig{LeaveGrace: 30 * time.Millisecond})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)
	p.HandleParticipantDisconnected(id)
	p.Close()

	time.Sleep(80 * time.Millisecond)

	active, err := repo.ListActive(context.Background(), "demo")
	require.NoError(t, err)
	assert.Len(t, active, 1, "pending grace close must not fire after shutdown")
}

func TestPresence_MetadataChangeReresolves(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)
	entry, _ := entryFor(p, "alice-1234")
	require.Equal(t, domain.RoleViewer, entry.Role)

	// A wallet binding lands in the store mid-session.
	wallet := domain.WalletAddress("0x1234567890abcdef1234567890abcdef12345678")
	repo.activeRow("demo", "alice-1234", domain.RoleParticipant, wallet)

	id.Metadata = domain.EncodeMetadata(domain.ParticipantMetadata{Wallet: wallet})
	p.HandleMetadataChanged(id)

	entry, _ = entryFor(p, "alice-1234")
	assert.Equal(t, domain.RoleParticipant, entry.Role)
	assert.Equal(t, wallet, entry.Wallet)
}

func TestPresence_RosterReplacedDropsAbsentEntries(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})
	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_2", Identity: "bob-5678"})
	require.Len(t, p.Snapshot(), 2)

	p.HandleRosterReplaced([]domain.TransportIdentity{{SID: "PA_2b", Identity: "bob-5678"}})

	snapshot := p.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "bob-5678", snapshot[0].Identity)
}

func TestPresence_DisconnectedClearsProjection(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})
	p.HandleConnectionState(StateDisconnected)

	assert.Empty(t, p.Snapshot())
}

func TestPresence_SnapshotOrdering(t *testing.T) {
	repo := &fakeParticipantRepo{}
	wallet := domain.WalletAddress("0x1111111111111111111111111111111111111111")
	repo.activeRow("demo", "host-aaaa", domain.RoleHost, wallet)
	repo.activeRow("demo", "speaker-bbbb", domain.RoleParticipant, "")
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "viewer-cccc"})
	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_2", Identity: "speaker-bbbb"})
	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_3", Identity: "host-aaaa"})

	snapshot := p.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "host-aaaa", snapshot[0].Identity)
	assert.Equal(t, "speaker-bbbb", snapshot[1].Identity)
	assert.Equal(t, "viewer-cccc", snapshot[2].Identity)
}

func TestPresence_SetHandRaised(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	id := domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"}
	p.HandleParticipantConnected(id)

	p.SetHandRaised("alice-1234", true)
	entry, _ := entryFor(p, "alice-1234")
	assert.True(t, entry.HandRaised)

	p.SetHandRaised("alice-1234", false)
	entry, _ = entryFor(p, "alice-1234")
	assert.False(t, entry.HandRaised)
}

func TestPresence_SnapshotIsImmutable(t *testing.T) {
	repo := &fakeParticipantRepo{}
	p := newTestPresence(t, repo, PresenceConfig{})

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_1", Identity: "alice-1234"})
	held := p.Snapshot()
	require.Len(t, held, 1)

	p.HandleParticipantConnected(domain.TransportIdentity{SID: "PA_2", Identity: "bob-5678"})

	assert.Len(t, held, 1, "previously returned snapshot must not change")
	assert.Len(t, p.Snapshot(), 2)
}
