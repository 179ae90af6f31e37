package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the media transport settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// MediaSource feeds RTP packets for one local capture device. Implementations
// wrap actual capture; NextPacket blocks until a packet is ready or the
// source is closed.
type MediaSource interface {
	NextPacket() (*rtp.Packet, error)
	Close() error
}

// SourceProvider opens the capture source for a track kind. A failure maps to
// a device-unavailable error on the publish path.
type SourceProvider func(source domain.TrackSource) (MediaSource, error)

type localPublication struct {
	sid    domain.TrackSID
	source domain.TrackSource
	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	media  MediaSource

	mu    sync.Mutex
	muted bool
	stop  chan struct{}
}

type remoteTrack struct {
	sid         domain.TrackSID
	source      domain.TrackSource
	participant string
}

func (t *remoteTrack) SID() domain.TrackSID       { return t.sid }
func (t *remoteTrack) Source() domain.TrackSource { return t.source }
func (t *remoteTrack) Participant() string        { return t.participant }

// WebRTCTransport is the pion-backed implementation of ports.Transport.
// Signaling rides a websocket; media rides one peer connection negotiated
// over it. The instance is owned by a single session manager.
type WebRTCTransport struct {
	cfg     Config
	sources SourceProvider
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	signal   *signalClient
	pc       *webrtc.PeerConnection
	events   ports.TransportEvents
	cred     domain.JoinCredential
	identity domain.TransportIdentity
	roster   map[string]domain.TransportIdentity
	local    map[domain.TrackSID]*localPublication
	closing  bool
}

func NewWebRTCTransport(cfg Config, sources SourceProvider, logger *zap.SugaredLogger) ports.Transport {
	return &WebRTCTransport{
		cfg:     cfg,
		sources: sources,
		logger:  logger,
		roster:  make(map[string]domain.TransportIdentity),
		local:   make(map[domain.TrackSID]*localPublication),
	}
}

func (t *WebRTCTransport) Connect(ctx context.Context, cred domain.JoinCredential, events ports.TransportEvents) error {
	t.mu.Lock()
	t.events = events
	t.cred = cred
	t.closing = false
	t.mu.Unlock()

	if err := t.establish(ctx, cred, false); err != nil {
		return err
	}
	if events.OnConnected != nil {
		events.OnConnected()
	}
	return nil
}

// establish dials signaling, performs the join handshake and builds the peer
// connection. On rejoin the server replaces the previous session.
func (t *WebRTCTransport) establish(ctx context.Context, cred domain.JoinCredential, rejoin bool) error {
	signal := newSignalClient(cred.TransportURL, cred.Token, t.logger)
	signal.onMessage = t.handleSignal
	signal.onClosed = t.handleSignalLost

	if err := signal.dial(); err != nil {
		return err
	}

	timeout := t.cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	resp, err := signal.request(signalMessage{Type: msgJoin, Token: cred.Token}, utils.GenerateRequestID(), timeout)
	if err != nil {
		signal.close()
		return fmt.Errorf("join handshake failed: %w", err)
	}
	if resp.Participant == nil {
		signal.close()
		return fmt.Errorf("join handshake returned no identity")
	}

	pc, err := t.createPeerConnection()
	if err != nil {
		signal.close()
		return err
	}

	t.mu.Lock()
	oldPC := t.pc
	oldLocal := t.local
	t.signal = signal
	t.pc = pc
	t.local = make(map[domain.TrackSID]*localPublication)
	t.identity = resp.Participant.toDomain()
	t.roster = make(map[string]domain.TransportIdentity)
	for _, p := range resp.Roster {
		t.roster[p.Identity] = p.toDomain()
	}
	t.mu.Unlock()

	// The server replaced the session. Release the previous peer connection
	// and every capture handle; the session layer republishes what it wants.
	for _, pub := range oldLocal {
		close(pub.stop)
		pub.media.Close()
	}
	if oldPC != nil {
		if err := oldPC.Close(); err != nil {
			t.logger.Warnw("failed to close previous peer connection", "error", err)
		}
	}

	t.logger.Infow("signaling established",
		"identity", resp.Participant.Identity,
		"roster_size", len(resp.Roster),
		"rejoin", rejoin,
	)
	return nil
}

func (t *WebRTCTransport) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   t.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if t.cfg.PortRange.Min > 0 && t.cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(t.cfg.PortRange.Min, t.cfg.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnTrack(t.handleRemoteTrack)
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		t.mu.Lock()
		signal := t.signal
		t.mu.Unlock()
		if signal != nil {
			signal.send(signalMessage{Type: msgICECandidate, Candidate: candidate.ToJSON().Candidate})
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Infow("peer connection state changed", "state", state)
	})
	return pc, nil
}

func (t *WebRTCTransport) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	source := sourceFromStreamID(track.StreamID())
	rt := &remoteTrack{
		sid:         domain.TrackSID(track.ID()),
		source:      source,
		participant: track.RID(),
	}

	// The participant identity rides the msid; RID is only set for simulcast.
	if rt.participant == "" {
		rt.participant = track.StreamID()
	}

	go t.drainReceiverRTCP(receiver)

	t.mu.Lock()
	events := t.events
	id, ok := t.roster[rt.participant]
	t.mu.Unlock()
	if !ok {
		id = domain.TransportIdentity{Identity: rt.participant}
	}
	if events.OnTrackReceived != nil {
		events.OnTrackReceived(id, rt)
	}
}

func (t *WebRTCTransport) handleSignal(msg signalMessage) {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()

	switch msg.Type {
	case msgOffer:
		t.handleOffer(msg)
	case msgICECandidate:
		t.mu.Lock()
		pc := t.pc
		t.mu.Unlock()
		if pc != nil {
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: msg.Candidate}); err != nil {
				t.logger.Warnw("failed to add ICE candidate", "error", err)
			}
		}
	case msgParticipantJoin:
		if msg.Participant == nil {
			return
		}
		id := msg.Participant.toDomain()
		t.mu.Lock()
		t.roster[id.Identity] = id
		t.mu.Unlock()
		if events.OnParticipantConnected != nil {
			events.OnParticipantConnected(id)
		}
	case msgParticipantLeft:
		if msg.Participant == nil {
			return
		}
		id := msg.Participant.toDomain()
		t.mu.Lock()
		delete(t.roster, id.Identity)
		t.mu.Unlock()
		if events.OnParticipantDisconnected != nil {
			events.OnParticipantDisconnected(id)
		}
	case msgMetadataChanged:
		if msg.Participant == nil {
			return
		}
		id := msg.Participant.toDomain()
		t.mu.Lock()
		t.roster[id.Identity] = id
		t.mu.Unlock()
		if events.OnParticipantMetadataChanged != nil {
			events.OnParticipantMetadataChanged(id)
		}
	case msgTrackPublished:
		if msg.Participant == nil || msg.Track == nil {
			return
		}
		if events.OnTrackPublished != nil {
			events.OnTrackPublished(msg.Participant.toDomain(), domain.TrackPublication{
				SID:         domain.TrackSID(msg.Track.SID),
				Source:      domain.TrackSource(msg.Track.Source),
				Participant: msg.Participant.Identity,
				Muted:       msg.Track.Muted,
				PublishedAt: time.Now(),
			})
		}
	case msgTrackUnpublish:
		if msg.Participant == nil || msg.Track == nil {
			return
		}
		if events.OnTrackUnpublished != nil {
			events.OnTrackUnpublished(msg.Participant.toDomain(), domain.TrackPublication{
				SID:         domain.TrackSID(msg.Track.SID),
				Source:      domain.TrackSource(msg.Track.Source),
				Participant: msg.Participant.Identity,
			})
		}
	case msgTrackMuted:
		if msg.Participant == nil || msg.Track == nil {
			return
		}
		if events.OnTrackMuted != nil {
			events.OnTrackMuted(msg.Participant.toDomain(), domain.TrackSID(msg.Track.SID), msg.Muted)
		}
	default:
		t.logger.Debugw("ignoring signaling message", "type", msg.Type)
	}
}

func (t *WebRTCTransport) handleOffer(msg signalMessage) {
	t.mu.Lock()
	pc := t.pc
	signal := t.signal
	t.mu.Unlock()
	if pc == nil || signal == nil {
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		t.logger.Errorw("failed to set remote offer", "error", err)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.logger.Errorw("failed to create answer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.logger.Errorw("failed to set local answer", "error", err)
		return
	}

	signal.send(signalMessage{Type: msgAnswer, SDP: answer.SDP})
}

// handleSignalLost drives the reconnect loop after an unexpected socket drop.
func (t *WebRTCTransport) handleSignalLost(cause error) {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	events := t.events
	cred := t.cred
	t.mu.Unlock()

	if events.OnReconnecting != nil {
		events.OnReconnecting()
	}

	backoff := t.cfg.ReconnectBackoff
	if backoff == 0 {
		backoff = 2 * time.Second
	}
	attempts := t.cfg.ReconnectAttempts
	if attempts == 0 {
		attempts = 3
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		time.Sleep(backoff)
		backoff *= 2

		t.mu.Lock()
		if t.closing {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
		err := t.establish(ctx, cred, true)
		cancel()
		if err != nil {
			t.logger.Warnw("reconnect attempt failed",
				"attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		roster := make([]domain.TransportIdentity, 0, len(t.roster))
		for _, id := range t.roster {
			roster = append(roster, id)
		}
		t.mu.Unlock()

		if events.OnReconnected != nil {
			events.OnReconnected(roster)
		}
		return
	}

	t.logger.Errorw("reconnect budget exhausted", "cause", cause)
	if events.OnDisconnected != nil {
		events.OnDisconnected(fmt.Errorf("%w: %v", domain.ErrConnectionLost, cause))
	}
}

func (t *WebRTCTransport) PublishTrack(ctx context.Context, source domain.TrackSource) (domain.TrackSID, error) {
	t.mu.Lock()
	pc := t.pc
	signal := t.signal
	t.mu.Unlock()
	if pc == nil || signal == nil {
		return "", domain.ErrNotConnected
	}

	media, err := t.sources(source)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	capability := codecFor(source)
	track, err := webrtc.NewTrackLocalStaticRTP(capability, string(source), trackStreamID(source))
	if err != nil {
		media.Close()
		return "", fmt.Errorf("failed to create local track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		media.Close()
		return "", fmt.Errorf("failed to add track: %w", err)
	}

	resp, err := signal.request(signalMessage{Type: msgPublish, Source: string(source)}, utils.GenerateRequestID(), 10*time.Second)
	if err != nil {
		pc.RemoveTrack(sender)
		media.Close()
		return "", fmt.Errorf("publish signaling failed: %w", err)
	}
	if resp.Track == nil {
		pc.RemoveTrack(sender)
		media.Close()
		return "", fmt.Errorf("publish response carried no track")
	}

	pub := &localPublication{
		sid:    domain.TrackSID(resp.Track.SID),
		source: source,
		track:  track,
		sender: sender,
		media:  media,
		stop:   make(chan struct{}),
	}

	t.mu.Lock()
	t.local[pub.sid] = pub
	t.mu.Unlock()

	go t.forwardMedia(pub)
	go t.drainSenderRTCP(pub)

	t.logger.Infow("local track published", "source", source, "sid", pub.sid)
	return pub.sid, nil
}

// forwardMedia pumps capture packets into the local track until the
// publication is stopped. Muted publications drop packets without closing
// the capture source.
func (t *WebRTCTransport) forwardMedia(pub *localPublication) {
	for {
		select {
		case <-pub.stop:
			return
		default:
		}

		packet, err := pub.media.NextPacket()
		if err != nil {
			if err != io.EOF {
				t.logger.Warnw("capture source failed",
					"source", pub.source, "error", err)
			}
			return
		}

		pub.mu.Lock()
		muted := pub.muted
		pub.mu.Unlock()
		if muted {
			continue
		}

		if err := pub.track.WriteRTP(packet); err != nil {
			t.logger.Warnw("error writing RTP packet",
				"source", pub.source, "error", err)
			return
		}
	}
}

// drainSenderRTCP keeps the sender's RTCP interceptor fed and surfaces
// keyframe requests in the logs.
func (t *WebRTCTransport) drainSenderRTCP(pub *localPublication) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-pub.stop:
			return
		default:
		}

		n, _, err := pub.sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				t.logger.Debugw("received PLI", "source", pub.source)
			}
		}
	}
}

func (t *WebRTCTransport) drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (t *WebRTCTransport) UnpublishTrack(ctx context.Context, sid domain.TrackSID) error {
	t.mu.Lock()
	pub, ok := t.local[sid]
	if ok {
		delete(t.local, sid)
	}
	pc := t.pc
	signal := t.signal
	t.mu.Unlock()
	if !ok {
		return nil
	}

	close(pub.stop)
	pub.media.Close()
	if pc != nil && pub.sender != nil {
		if err := pc.RemoveTrack(pub.sender); err != nil {
			t.logger.Warnw("failed to remove track", "sid", sid, "error", err)
		}
	}
	if signal != nil {
		signal.send(signalMessage{Type: msgUnpublish, SID: string(sid)})
	}

	t.logger.Infow("local track unpublished", "source", pub.source, "sid", sid)
	return nil
}

func (t *WebRTCTransport) SetTrackMuted(ctx context.Context, sid domain.TrackSID, muted bool) error {
	t.mu.Lock()
	pub, ok := t.local[sid]
	signal := t.signal
	t.mu.Unlock()
	if !ok {
		return domain.ErrDeviceUnavailable
	}

	pub.mu.Lock()
	pub.muted = muted
	pub.mu.Unlock()

	if signal != nil {
		return signal.send(signalMessage{Type: msgMute, SID: string(sid), Muted: muted})
	}
	return nil
}

func (t *WebRTCTransport) LocalIdentity() domain.TransportIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *WebRTCTransport) Roster() []domain.TransportIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	roster := make([]domain.TransportIdentity, 0, len(t.roster))
	for _, id := range t.roster {
		roster = append(roster, id)
	}
	return roster
}

func (t *WebRTCTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	t.closing = true
	local := t.local
	t.local = make(map[domain.TrackSID]*localPublication)
	pc := t.pc
	signal := t.signal
	t.pc = nil
	t.signal = nil
	t.mu.Unlock()

	for _, pub := range local {
		close(pub.stop)
		pub.media.Close()
	}
	if signal != nil {
		signal.close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}

func codecFor(source domain.TrackSource) webrtc.RTPCodecCapability {
	if source == domain.TrackMicrophone {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
}

func trackStreamID(source domain.TrackSource) string {
	return "spacecast-" + string(source)
}

func sourceFromStreamID(streamID string) domain.TrackSource {
	switch streamID {
	case trackStreamID(domain.TrackMicrophone):
		return domain.TrackMicrophone
	case trackStreamID(domain.TrackScreenShare):
		return domain.TrackScreenShare
	default:
		return domain.TrackCamera
	}
}
