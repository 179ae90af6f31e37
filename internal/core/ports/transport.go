package ports

import (
	"context"

	"spacecast/internal/core/domain"
)

// RemoteTrack is a remote media stream delivered by the transport, opaque
// beyond identification and sink rendering.
type RemoteTrack interface {
	SID() domain.TrackSID
	Source() domain.TrackSource
	Participant() string
}

// Sink is a rendering destination for a remote track. Attach/detach through
// the session manager are the only mutation points.
type Sink interface {
	ID() string
	Render(track RemoteTrack) error
	Clear() error
}

// TransportEvents carries the callback set the media transport dispatches.
// Callbacks run on the transport's event goroutine and must not block; the
// session layer offloads store writes.
type TransportEvents struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnReconnecting func()
	// OnReconnected delivers the transport's authoritative post-reconnect
	// roster; the previous remote participant list must not be assumed valid.
	OnReconnected func(roster []domain.TransportIdentity)

	OnParticipantConnected       func(id domain.TransportIdentity)
	OnParticipantDisconnected    func(id domain.TransportIdentity)
	OnParticipantMetadataChanged func(id domain.TransportIdentity)

	OnTrackPublished   func(id domain.TransportIdentity, pub domain.TrackPublication)
	OnTrackUnpublished func(id domain.TransportIdentity, pub domain.TrackPublication)
	OnTrackMuted       func(id domain.TransportIdentity, sid domain.TrackSID, muted bool)
	OnTrackReceived    func(id domain.TransportIdentity, track RemoteTrack)
}

// Transport is the media-transport SDK surface consumed by the session layer.
// One Transport instance is exclusively owned by one session manager.
type Transport interface {
	Connect(ctx context.Context, cred domain.JoinCredential, events TransportEvents) error
	Disconnect(ctx context.Context) error

	PublishTrack(ctx context.Context, source domain.TrackSource) (domain.TrackSID, error)
	UnpublishTrack(ctx context.Context, sid domain.TrackSID) error
	SetTrackMuted(ctx context.Context, sid domain.TrackSID, muted bool) error

	LocalIdentity() domain.TransportIdentity
	Roster() []domain.TransportIdentity
}

// CredentialService mints short-lived, single-room join credentials.
type CredentialService interface {
	RequestJoinCredential(ctx context.Context, room domain.RoomName, identity string, role domain.Role, meta domain.ParticipantMetadata) (*domain.JoinCredential, error)
}

// EgressService starts and stops the host's outward broadcast, opaque beyond
// success or failure.
type EgressService interface {
	StartBroadcast(ctx context.Context, room domain.RoomName) error
	StopBroadcast(ctx context.Context, room domain.RoomName) error
}

// RoomNotifier broadcasts room-state changes to connected clients. Go-live
// must reach waiting viewers before their auto-join retries proceed.
type RoomNotifier interface {
	BroadcastRoomState(state domain.RoomState)
}
