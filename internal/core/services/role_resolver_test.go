package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeParticipantRepo is an in-memory ports.ParticipantRepository that counts
// store lookups.
type fakeParticipantRepo struct {
	mu        sync.Mutex
	rows      []*domain.Participant
	findCalls int
	findErr   error
	insertErr error
}

func (f *fakeParticipantRepo) Insert(ctx context.Context, p *domain.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeParticipantRepo) GetBySession(ctx context.Context, id domain.SessionID) (*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.SessionID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrParticipantNotFound
}

func (f *fakeParticipantRepo) Update(ctx context.Context, p *domain.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.rows {
		if row.SessionID == p.SessionID {
			cp := *p
			f.rows[i] = &cp
			return nil
		}
	}
	return domain.ErrParticipantNotFound
}

func (f *fakeParticipantRepo) matches(p *domain.Participant, ref ports.ParticipantRef) bool {
	if ref.Wallet != "" {
		return p.Wallet == ref.Wallet
	}
	return p.Identity == ref.Identity
}

func (f *fakeParticipantRepo) FindActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef) (*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var latest *domain.Participant
	for _, p := range f.rows {
		if p.Room == room && p.IsActive && f.matches(p, ref) {
			if latest == nil || p.JoinedAt.After(latest.JoinedAt) {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, domain.ErrParticipantNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeParticipantRepo) ListActive(ctx context.Context, room domain.RoomName) ([]*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Participant
	for _, p := range f.rows {
		if p.Room == room && p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeParticipantRepo) CloseActive(ctx context.Context, room domain.RoomName, ref ports.ParticipantRef, leftAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	closed := 0
	for _, p := range f.rows {
		if p.Room == room && p.IsActive && f.matches(p, ref) {
			t := leftAt
			p.IsActive = false
			p.LeftAt = &t
			closed++
		}
	}
	return closed, nil
}

func (f *fakeParticipantRepo) activeRow(room domain.RoomName, identity string, role domain.Role, wallet domain.WalletAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, &domain.Participant{
		SessionID: domain.SessionID(identity + "-session"),
		Room:      room,
		Wallet:    wallet,
		Identity:  identity,
		Role:      role,
		JoinedAt:  time.Now(),
		IsActive:  true,
	})
}

func newTestResolver(t *testing.T, repo *fakeParticipantRepo, caps CapabilityFn) (*RoleResolver, *MetricsService) {
	t.Helper()
	metrics := NewMetricsService()
	r := NewRoleResolver("demo", repo, caps, metrics, zap.NewNop().Sugar())
	t.Cleanup(r.Close)
	return r, metrics
}

func TestResolve_StoreWalletWins(t *testing.T) {
	repo := &fakeParticipantRepo{}
	wallet := domain.WalletAddress("0x1234567890abcdef1234567890abcdef12345678")
	repo.activeRow("demo", "host-abc", domain.RoleHost, wallet)

	r, metrics := newTestResolver(t, repo, nil)

	role := r.Resolve(context.Background(), domain.TransportIdentity{
		Identity: "different-identity",
		Metadata: domain.EncodeMetadata(domain.ParticipantMetadata{Wallet: wallet, Role: domain.RoleViewer}),
	})

	assert.Equal(t, domain.RoleHost, role)
	assert.Equal(t, 1, metrics.ResolutionCount(ResolutionStoreWallet))
}

func TestResolve_StoreIdentityFallback(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.activeRow("demo", "alice-1234", domain.RoleParticipant, "")

	r, metrics := newTestResolver(t, repo, nil)

	role := r.Resolve(context.Background(), domain.TransportIdentity{Identity: "alice-1234"})

	assert.Equal(t, domain.RoleParticipant, role)
	assert.Equal(t, 1, metrics.ResolutionCount(ResolutionStoreIdentity))
}

func TestResolve_MetadataHint(t *testing.T) {
	repo := &fakeParticipantRepo{}
	r, metrics := newTestResolver(t, repo, nil)

	role := r.Resolve(context.Background(), domain.TransportIdentity{
		Identity: "bob-5678",
		Metadata: domain.EncodeMetadata(domain.ParticipantMetadata{Role: domain.RoleParticipant}),
	})

	assert.Equal(t, domain.RoleParticipant, role)
	assert.Equal(t, 1, metrics.ResolutionCount(ResolutionMetadata))
}

func TestResolve_HostMetadataIgnored(t *testing.T) {
	repo := &fakeParticipantRepo{}
	r, metrics := newTestResolver(t, repo, nil)

	// A forged host assertion over the transport falls through to capability.
	role := r.Resolve(context.Background(), domain.TransportIdentity{
		Identity: "mallory-0000",
		Metadata: `{"v":1,"role":"host"}`,
	})

	assert.Equal(t, domain.RoleViewer, role)
	assert.Equal(t, 0, metrics.ResolutionCount(ResolutionMetadata))
	assert.Equal(t, 1, metrics.ResolutionCount(ResolutionCapability))
}

func TestResolve_CapabilityFallback(t *testing.T) {
	repo := &fakeParticipantRepo{}

	publishing := map[string]bool{"speaker-1": true}
	caps := func(identity string) (bool, bool) {
		return publishing[identity], false
	}
	r, metrics := newTestResolver(t, repo, caps)

	assert.Equal(t, domain.RoleParticipant, r.Resolve(context.Background(), domain.TransportIdentity{Identity: "speaker-1"}))
	assert.Equal(t, domain.RoleViewer, r.Resolve(context.Background(), domain.TransportIdentity{Identity: "lurker-1"}))
	assert.Equal(t, 2, metrics.ResolutionCount(ResolutionCapability))
}

func TestResolve_CachesStoreLookups(t *testing.T) {
	repo := &fakeParticipantRepo{}
	repo.activeRow("demo", "alice-1234", domain.RoleParticipant, "")

	r, _ := newTestResolver(t, repo, nil)

	tid := domain.TransportIdentity{Identity: "alice-1234"}
	r.Resolve(context.Background(), tid)
	r.Resolve(context.Background(), tid)
	r.Resolve(context.Background(), tid)

	assert.Equal(t, 1, repo.findCalls)
}

func TestResolve_CachesMisses(t *testing.T) {
	repo := &fakeParticipantRepo{}
	r, _ := newTestResolver(t, repo, nil)

	tid := domain.TransportIdentity{Identity: "ghost-9999"}
	r.Resolve(context.Background(), tid)
	r.Resolve(context.Background(), tid)

	assert.Equal(t, 1, repo.findCalls)
}

func TestResolve_InvalidateIdentity(t *testing.T) {
	repo := &fakeParticipantRepo{}
	r, _ := newTestResolver(t, repo, nil)

	tid := domain.TransportIdentity{Identity: "alice-1234"}
	require.Equal(t, domain.RoleViewer, r.Resolve(context.Background(), tid))

	// Role change lands in the store; stale cache would still say viewer.
	repo.activeRow("demo", "alice-1234", domain.RoleParticipant, "")
	require.Equal(t, domain.RoleViewer, r.Resolve(context.Background(), tid))

	r.InvalidateIdentity("alice-1234")
	assert.Equal(t, domain.RoleParticipant, r.Resolve(context.Background(), tid))
}

func TestResolve_StoreErrorFallsThrough(t *testing.T) {
	repo := &fakeParticipantRepo{findErr: assert.AnError}
	r, _ := newTestResolver(t, repo, nil)

	role := r.Resolve(context.Background(), domain.TransportIdentity{Identity: "alice-1234"})
	assert.Equal(t, domain.RoleViewer, role)
}
