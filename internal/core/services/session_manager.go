package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/tracing"

	"go.uber.org/zap"
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// LocalTrackOptions are the caller-supplied enable flags applied right after
// the transport reports the session established.
type LocalTrackOptions struct {
	CameraEnabled     bool
	MicrophoneEnabled bool
}

// ConnectResult reports the outcome of the post-connect local publishes.
// Per-track failures are isolated: the session is connected even when a
// device publish failed, and the UI offers retry for that device alone.
type ConnectResult struct {
	TrackErrors map[domain.TrackSource]error
}

func (r *ConnectResult) Degraded() bool { return len(r.TrackErrors) > 0 }

// SessionObserver receives the transport events the session manager forwards
// after its own bookkeeping. PresenceSync implements it.
type SessionObserver interface {
	HandleConnectionState(state ConnectionState)
	HandleRosterReplaced(roster []domain.TransportIdentity)
	HandleParticipantConnected(id domain.TransportIdentity)
	HandleParticipantDisconnected(id domain.TransportIdentity)
	HandleMetadataChanged(id domain.TransportIdentity)
	HandleTrackPublished(id domain.TransportIdentity, pub domain.TrackPublication)
	HandleTrackUnpublished(id domain.TransportIdentity, pub domain.TrackPublication)
	HandleTrackMuted(id domain.TransportIdentity, sid domain.TrackSID, muted bool)
}

// RemoteTrackHandler receives remote media tracks as the transport delivers
// them. The UI layer attaches rendering sinks from here.
type RemoteTrackHandler func(id domain.TransportIdentity, track ports.RemoteTrack)

type sinkBinding struct {
	track ports.RemoteTrack
	sink  ports.Sink
}

// SessionManager owns the single live transport connection of one client:
// the Disconnected/Connecting/Connected/Reconnecting lifecycle, local track
// publications and remote sink attachment. The transport instance is never
// shared across sessions.
type SessionManager struct {
	room      domain.RoomName
	transport ports.Transport
	metrics   *MetricsService
	logger    *zap.SugaredLogger

	mu         sync.Mutex
	state      ConnectionState
	inflight   chan struct{} // closed when the in-flight connect settles
	connectErr error
	result     *ConnectResult

	role    domain.Role
	desired LocalTrackOptions
	local   map[domain.TrackSource]*domain.TrackPublication

	remote   map[domain.TrackSID]ports.RemoteTrack
	bindings map[domain.TrackSID]*sinkBinding

	share        *ScreenShareArbiter
	observer     SessionObserver
	trackHandler RemoteTrackHandler
}

func NewSessionManager(
	room domain.RoomName,
	transport ports.Transport,
	metrics *MetricsService,
	logger *zap.SugaredLogger,
) *SessionManager {
	m := &SessionManager{
		room:      room,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		state:     StateDisconnected,
		local:     make(map[domain.TrackSource]*domain.TrackPublication),
		remote:    make(map[domain.TrackSID]ports.RemoteTrack),
		bindings:  make(map[domain.TrackSID]*sinkBinding),
	}
	m.share = newScreenShareArbiter(m, metrics, logger)
	return m
}

// SetObserver must be called before Connect.
func (m *SessionManager) SetObserver(obs SessionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = obs
}

// SetRemoteTrackHandler must be called before Connect.
func (m *SessionManager) SetRemoteTrackHandler(h RemoteTrackHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackHandler = h
}

// RemoteTrack returns a track the transport delivered for this session, if it
// is still live.
func (m *SessionManager) RemoteTrack(sid domain.TrackSID) (ports.RemoteTrack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	track, ok := m.remote[sid]
	return track, ok
}

func (m *SessionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) Screen() *ScreenShareArbiter { return m.share }

func (m *SessionManager) LocalPublication(source domain.TrackSource) (*domain.TrackPublication, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pub, ok := m.local[source]
	return pub, ok
}

// Connect opens the transport session and publishes the local tracks the
// options enable. Concurrent calls coalesce into the in-flight attempt and
// share its result. Publish failures do not fail the connect; they come back
// in ConnectResult.TrackErrors.
func (m *SessionManager) Connect(ctx context.Context, cred domain.JoinCredential, role domain.Role, opts LocalTrackOptions) (*ConnectResult, error) {
	ctx, span := tracing.TraceTransport(ctx, "connect", string(m.room))
	defer span.End()

	m.mu.Lock()
	switch m.state {
	case StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil, domain.ErrAlreadyConnected
	case StateConnecting:
		wait := m.inflight
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
		res, err := m.result, m.connectErr
		m.mu.Unlock()
		return res, err
	}

	m.state = StateConnecting
	m.inflight = make(chan struct{})
	m.role = role
	m.desired = opts
	done := m.inflight
	m.mu.Unlock()

	res, err := m.doConnect(ctx, cred, role, opts)

	m.mu.Lock()
	m.result, m.connectErr = res, err
	if err != nil {
		m.state = StateDisconnected
	}
	close(done)
	m.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	m.notifyState(StateConnected)
	return res, nil
}

func (m *SessionManager) doConnect(ctx context.Context, cred domain.JoinCredential, role domain.Role, opts LocalTrackOptions) (*ConnectResult, error) {
	start := time.Now()
	if err := m.transport.Connect(ctx, cred, m.events()); err != nil {
		return nil, fmt.Errorf("transport connect failed: %w", err)
	}
	m.metrics.RecordConnect(time.Since(start))

	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()

	// Local publishes settle before the ready signal surfaces, so the caller
	// never observes a joined room with indeterminate camera/mic state.
	result := &ConnectResult{TrackErrors: make(map[domain.TrackSource]error)}
	if role != domain.RoleViewer {
		if opts.MicrophoneEnabled {
			if err := m.publishLocal(ctx, domain.TrackMicrophone); err != nil {
				result.TrackErrors[domain.TrackMicrophone] = err
			}
		}
		if opts.CameraEnabled {
			if err := m.publishLocal(ctx, domain.TrackCamera); err != nil {
				result.TrackErrors[domain.TrackCamera] = err
			}
		}
	}

	for source, err := range result.TrackErrors {
		m.logger.Warnw("local track publish failed",
			"room", m.room, "source", source, "error", err)
	}
	m.logger.Infow("transport session established",
		"room", m.room,
		"identity", m.transport.LocalIdentity().Identity,
		"degraded", result.Degraded(),
	)
	return result, nil
}

func (m *SessionManager) publishLocal(ctx context.Context, source domain.TrackSource) error {
	sid, err := m.transport.PublishTrack(ctx, source)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	m.mu.Lock()
	m.local[source] = &domain.TrackPublication{
		SID:         sid,
		Source:      source,
		Participant: m.transport.LocalIdentity().Identity,
		PublishedAt: time.Now(),
	}
	m.mu.Unlock()
	m.metrics.RecordPublication(m.room, source)
	return nil
}

func (m *SessionManager) unpublishLocal(ctx context.Context, source domain.TrackSource) error {
	m.mu.Lock()
	pub, ok := m.local[source]
	if ok {
		delete(m.local, source)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.metrics.RecordUnpublication(m.room, source)
	if err := m.transport.UnpublishTrack(ctx, pub.SID); err != nil {
		return fmt.Errorf("failed to unpublish %s: %w", source, err)
	}
	return nil
}

// ToggleCamera enables or disables the local camera publication. Only valid
// while connected.
func (m *SessionManager) ToggleCamera(ctx context.Context) error {
	return m.toggleDevice(ctx, domain.TrackCamera)
}

func (m *SessionManager) ToggleMicrophone(ctx context.Context) error {
	return m.toggleDevice(ctx, domain.TrackMicrophone)
}

func (m *SessionManager) toggleDevice(ctx context.Context, source domain.TrackSource) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	_, published := m.local[source]
	m.mu.Unlock()

	if published {
		m.setDesired(source, false)
		return m.unpublishLocal(ctx, source)
	}
	m.setDesired(source, true)
	return m.publishLocal(ctx, source)
}

// SetMuted mutes or unmutes a live local publication without tearing it down.
func (m *SessionManager) SetMuted(ctx context.Context, source domain.TrackSource, muted bool) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return domain.ErrNotConnected
	}
	pub, ok := m.local[source]
	if !ok {
		m.mu.Unlock()
		return domain.ErrDeviceUnavailable
	}
	sid := pub.SID
	pub.Muted = muted
	m.mu.Unlock()
	return m.transport.SetTrackMuted(ctx, sid, muted)
}

// ToggleScreenShare delegates to the arbiter; toggles racing an in-flight
// toggle coalesce to the latest requested end state.
func (m *SessionManager) ToggleScreenShare(ctx context.Context, enabled bool) error {
	return m.share.SetScreenShare(ctx, enabled)
}

// AttachSink binds a remote track to a rendering sink. Re-attaching to the
// same sink is a no-op; a new sink detaches the previous one first.
func (m *SessionManager) AttachSink(track ports.RemoteTrack, sink ports.Sink) error {
	m.mu.Lock()
	binding, ok := m.bindings[track.SID()]
	if ok && binding.sink.ID() == sink.ID() {
		m.mu.Unlock()
		return nil
	}
	m.bindings[track.SID()] = &sinkBinding{track: track, sink: sink}
	m.mu.Unlock()

	if ok {
		if err := binding.sink.Clear(); err != nil {
			m.logger.Warnw("failed to clear previous sink",
				"sink", binding.sink.ID(), "track", track.SID(), "error", err)
		}
	}
	return sink.Render(track)
}

func (m *SessionManager) DetachSink(sid domain.TrackSID) error {
	m.mu.Lock()
	binding, ok := m.bindings[sid]
	delete(m.bindings, sid)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return binding.sink.Clear()
}

// Disconnect is safe in any state, including mid-connect, and always lands in
// Disconnected with every local publication released. Teardown order is
// screen-share, camera, microphone.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	ctx, span := tracing.TraceTransport(ctx, "disconnect", string(m.room))
	defer span.End()

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	wait := m.inflight
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}

	m.share.reset()
	for _, source := range []domain.TrackSource{domain.TrackScreenShare, domain.TrackCamera, domain.TrackMicrophone} {
		if err := m.unpublishLocal(ctx, source); err != nil {
			m.logger.Warnw("failed to unpublish local track on disconnect",
				"room", m.room, "source", source, "error", err)
		}
	}

	m.mu.Lock()
	for sid, binding := range m.bindings {
		if err := binding.sink.Clear(); err != nil {
			m.logger.Debugw("failed to clear sink", "track", sid, "error", err)
		}
	}
	m.bindings = make(map[domain.TrackSID]*sinkBinding)
	m.remote = make(map[domain.TrackSID]ports.RemoteTrack)
	m.state = StateDisconnected
	m.mu.Unlock()

	err := m.transport.Disconnect(ctx)
	m.notifyState(StateDisconnected)
	m.logger.Infow("transport session closed", "room", m.room)
	return err
}

func (m *SessionManager) events() ports.TransportEvents {
	return ports.TransportEvents{
		OnDisconnected: m.onTransportLost,
		OnReconnecting: m.onReconnecting,
		OnReconnected:  m.onReconnected,

		OnParticipantConnected:       m.forwardParticipantConnected,
		OnParticipantDisconnected:    m.forwardParticipantDisconnected,
		OnParticipantMetadataChanged: m.forwardMetadataChanged,

		OnTrackPublished:   m.forwardTrackPublished,
		OnTrackUnpublished: m.forwardTrackUnpublished,
		OnTrackMuted:       m.forwardTrackMuted,
		OnTrackReceived:    m.handleTrackReceived,
	}
}

// handleTrackReceived keeps the live remote track set and hands the track to
// the registered handler for sink attachment.
func (m *SessionManager) handleTrackReceived(id domain.TransportIdentity, track ports.RemoteTrack) {
	m.mu.Lock()
	m.remote[track.SID()] = track
	handler := m.trackHandler
	m.mu.Unlock()

	if handler != nil {
		handler(id, track)
	}
}

// onTransportLost fires when the transport exhausts its own retry budget.
func (m *SessionManager) onTransportLost(err error) {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.local = make(map[domain.TrackSource]*domain.TrackPublication)
	m.remote = make(map[domain.TrackSID]ports.RemoteTrack)
	m.mu.Unlock()

	m.share.reset()
	m.logger.Errorw("transport connection lost",
		"room", m.room, "error", err)
	m.notifyState(StateDisconnected)
}

func (m *SessionManager) onReconnecting() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	m.metrics.RecordReconnect(m.room)
	m.logger.Warnw("transport reconnecting", "room", m.room)
	m.notifyState(StateReconnecting)
}

// onReconnected re-asserts the desired local track state and hands the
// authoritative roster to the observer. The pre-reconnect remote list is
// discarded, not merged.
func (m *SessionManager) onReconnected(roster []domain.TransportIdentity) {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	role := m.role
	desired := m.desired
	m.local = make(map[domain.TrackSource]*domain.TrackPublication)
	// Remote tracks from the previous session are invalid; the transport
	// re-delivers live ones after the roster replacement.
	m.remote = make(map[domain.TrackSID]ports.RemoteTrack)
	m.mu.Unlock()

	ctx := context.Background()
	if role != domain.RoleViewer {
		if desired.MicrophoneEnabled {
			if err := m.publishLocal(ctx, domain.TrackMicrophone); err != nil {
				m.logger.Warnw("failed to republish microphone after reconnect",
					"room", m.room, "error", err)
			}
		}
		if desired.CameraEnabled {
			if err := m.publishLocal(ctx, domain.TrackCamera); err != nil {
				m.logger.Warnw("failed to republish camera after reconnect",
					"room", m.room, "error", err)
			}
		}
	}
	m.share.reassert(ctx)

	m.logger.Infow("transport reconnected",
		"room", m.room, "roster_size", len(roster))
	m.notifyState(StateConnected)
	if obs := m.getObserver(); obs != nil {
		obs.HandleRosterReplaced(roster)
	}
}

func (m *SessionManager) setDesired(source domain.TrackSource, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch source {
	case domain.TrackCamera:
		m.desired.CameraEnabled = enabled
	case domain.TrackMicrophone:
		m.desired.MicrophoneEnabled = enabled
	}
}

func (m *SessionManager) getObserver() SessionObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observer
}

func (m *SessionManager) notifyState(state ConnectionState) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleConnectionState(state)
	}
}

func (m *SessionManager) forwardParticipantConnected(id domain.TransportIdentity) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleParticipantConnected(id)
	}
}

func (m *SessionManager) forwardParticipantDisconnected(id domain.TransportIdentity) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleParticipantDisconnected(id)
	}
}

func (m *SessionManager) forwardMetadataChanged(id domain.TransportIdentity) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleMetadataChanged(id)
	}
}

func (m *SessionManager) forwardTrackPublished(id domain.TransportIdentity, pub domain.TrackPublication) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleTrackPublished(id, pub)
	}
}

func (m *SessionManager) forwardTrackUnpublished(id domain.TransportIdentity, pub domain.TrackPublication) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleTrackUnpublished(id, pub)
	}
}

func (m *SessionManager) forwardTrackMuted(id domain.TransportIdentity, sid domain.TrackSID, muted bool) {
	if obs := m.getObserver(); obs != nil {
		obs.HandleTrackMuted(id, sid, muted)
	}
}
