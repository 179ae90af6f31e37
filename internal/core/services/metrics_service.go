package services

import (
	"sync"
	"time"

	"spacecast/internal/core/domain"
)

// Role resolution decision sources, recorded for the store/transport skew
// signal.
const (
	ResolutionStoreWallet   = "store_wallet_hit"
	ResolutionStoreIdentity = "store_identity_hit"
	ResolutionMetadata      = "metadata_hint"
	ResolutionCapability    = "capability_fallback"
)

// MetricsExporter mirrors recorded events to an external backend such as
// Prometheus. Methods must not block.
type MetricsExporter interface {
	RecordJoin(room domain.RoomName, duration time.Duration)
	RecordJoinFailure(reason string)
	RecordLeave(room domain.RoomName)
	RecordRoomLive(room domain.RoomName)
	RecordRoomEnded(room domain.RoomName)
	RecordPublication(room domain.RoomName, source domain.TrackSource)
	RecordUnpublication(room domain.RoomName, source domain.TrackSource)
	RecordReconnect(room domain.RoomName)
	RecordConnect(duration time.Duration)
	RecordRoleResolution(source string)
	RecordScreenShareToggle(room domain.RoomName)
}

type RoomMetrics struct {
	Room               domain.RoomName
	ActiveParticipants int
	Publications       map[domain.TrackSource]int
	Reconnects         int
	ScreenShareToggles int
	Timestamp          time.Time
}

type MetricsService struct {
	mu sync.RWMutex

	participantCount map[domain.RoomName]int
	publicationCount map[domain.RoomName]map[domain.TrackSource]int
	reconnects       map[domain.RoomName]int
	shareToggles     map[domain.RoomName]int
	resolutions      map[string]int
	roomsLive        int

	exporter MetricsExporter
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		participantCount: make(map[domain.RoomName]int),
		publicationCount: make(map[domain.RoomName]map[domain.TrackSource]int),
		reconnects:       make(map[domain.RoomName]int),
		shareToggles:     make(map[domain.RoomName]int),
		resolutions:      make(map[string]int),
	}
}

// SetExporter installs an external backend. Call before the service handles
// traffic; the exporter is read without synchronization afterwards.
func (m *MetricsService) SetExporter(e MetricsExporter) {
	m.exporter = e
}

func (m *MetricsService) RecordParticipantJoined(room domain.RoomName, duration time.Duration) {
	m.mu.Lock()
	m.participantCount[room]++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordJoin(room, duration)
	}
}

func (m *MetricsService) RecordJoinFailure(reason string) {
	if m.exporter != nil {
		m.exporter.RecordJoinFailure(reason)
	}
}

func (m *MetricsService) RecordParticipantLeft(room domain.RoomName) {
	m.mu.Lock()
	if m.participantCount[room] > 0 {
		m.participantCount[room]--
	}
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordLeave(room)
	}
}

func (m *MetricsService) RecordRoomLive(room domain.RoomName) {
	m.mu.Lock()
	m.roomsLive++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordRoomLive(room)
	}
}

func (m *MetricsService) RecordRoomEnded(room domain.RoomName) {
	m.mu.Lock()
	if m.roomsLive > 0 {
		m.roomsLive--
	}
	delete(m.participantCount, room)
	delete(m.publicationCount, room)
	delete(m.reconnects, room)
	delete(m.shareToggles, room)
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordRoomEnded(room)
	}
}

func (m *MetricsService) RecordConnect(duration time.Duration) {
	if m.exporter != nil {
		m.exporter.RecordConnect(duration)
	}
}

func (m *MetricsService) RecordPublication(room domain.RoomName, source domain.TrackSource) {
	m.mu.Lock()
	if m.publicationCount[room] == nil {
		m.publicationCount[room] = make(map[domain.TrackSource]int)
	}
	m.publicationCount[room][source]++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordPublication(room, source)
	}
}

func (m *MetricsService) RecordUnpublication(room domain.RoomName, source domain.TrackSource) {
	m.mu.Lock()
	if m.publicationCount[room] != nil && m.publicationCount[room][source] > 0 {
		m.publicationCount[room][source]--
	}
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordUnpublication(room, source)
	}
}

func (m *MetricsService) RecordReconnect(room domain.RoomName) {
	m.mu.Lock()
	m.reconnects[room]++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordReconnect(room)
	}
}

func (m *MetricsService) RecordScreenShareToggle(room domain.RoomName) {
	m.mu.Lock()
	m.shareToggles[room]++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordScreenShareToggle(room)
	}
}

// ObserveResolution records which resolver chain step produced a role.
// Capability fallbacks indicate store/transport skew.
func (m *MetricsService) ObserveResolution(source string) {
	m.mu.Lock()
	m.resolutions[source]++
	m.mu.Unlock()
	if m.exporter != nil {
		m.exporter.RecordRoleResolution(source)
	}
}

func (m *MetricsService) ResolutionCount(source string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolutions[source]
}

func (m *MetricsService) RoomSnapshot(room domain.RoomName) RoomMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pubs := make(map[domain.TrackSource]int, len(m.publicationCount[room]))
	for source, count := range m.publicationCount[room] {
		pubs[source] = count
	}

	return RoomMetrics{
		Room:               room,
		ActiveParticipants: m.participantCount[room],
		Publications:       pubs,
		Reconnects:         m.reconnects[room],
		ScreenShareToggles: m.shareToggles[room],
		Timestamp:          time.Now(),
	}
}
