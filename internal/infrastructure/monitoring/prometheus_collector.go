package monitoring

import (
	"time"

	"spacecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	participantsConnected prometheus.Gauge
	roomsLiveTotal        prometheus.Gauge
	joinsTotal            prometheus.Counter
	joinFailuresTotal     *prometheus.CounterVec
	reconnectsTotal       prometheus.Counter

	joinDuration    prometheus.Histogram
	connectDuration prometheus.Histogram

	roomParticipantCount *prometheus.GaugeVec
	roomPublications     *prometheus.GaugeVec
	roleResolutions      *prometheus.CounterVec
	screenShareToggles   *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spacecast_participants_connected_total",
			Help: "Total number of connected participants",
		}),

		roomsLiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "spacecast_rooms_live_total",
			Help: "Total number of live rooms",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spacecast_joins_total",
			Help: "Total number of successful joins",
		}),

		joinFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_join_failures_total",
			Help: "Join failures by reason",
		}, []string{"reason"}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "spacecast_reconnects_total",
			Help: "Total number of transport reconnects",
		}),

		joinDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spacecast_join_duration_seconds",
			Help:    "Duration of the join sequence",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		connectDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "spacecast_transport_connect_duration_seconds",
			Help:    "Duration of transport connection establishment",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		roomParticipantCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacecast_room_participant_count",
			Help: "Number of active participants per room",
		}, []string{"room"}),

		roomPublications: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacecast_room_publications",
			Help: "Active track publications per room and source",
		}, []string{"room", "source"}),

		roleResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_role_resolutions_total",
			Help: "Role resolutions by decision source; capability fallbacks signal store/transport skew",
		}, []string{"source"}),

		screenShareToggles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_screen_share_toggles_total",
			Help: "Screen share toggles per room",
		}, []string{"room"}),
	}
}

func (p *PrometheusCollector) RecordJoin(room domain.RoomName, duration time.Duration) {
	p.joinsTotal.Inc()
	p.participantsConnected.Inc()
	p.joinDuration.Observe(duration.Seconds())
	p.roomParticipantCount.WithLabelValues(string(room)).Inc()
}

func (p *PrometheusCollector) RecordJoinFailure(reason string) {
	p.joinFailuresTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordLeave(room domain.RoomName) {
	p.participantsConnected.Dec()
	p.roomParticipantCount.WithLabelValues(string(room)).Dec()
}

func (p *PrometheusCollector) RecordRoomLive(room domain.RoomName) {
	p.roomsLiveTotal.Inc()
}

func (p *PrometheusCollector) RecordRoomEnded(room domain.RoomName) {
	p.roomsLiveTotal.Dec()

	p.roomParticipantCount.DeleteLabelValues(string(room))
	for _, source := range []domain.TrackSource{domain.TrackCamera, domain.TrackMicrophone, domain.TrackScreenShare} {
		p.roomPublications.DeleteLabelValues(string(room), string(source))
	}
	p.screenShareToggles.DeleteLabelValues(string(room))
}

func (p *PrometheusCollector) RecordPublication(room domain.RoomName, source domain.TrackSource) {
	p.roomPublications.WithLabelValues(string(room), string(source)).Inc()
}

func (p *PrometheusCollector) RecordUnpublication(room domain.RoomName, source domain.TrackSource) {
	p.roomPublications.WithLabelValues(string(room), string(source)).Dec()
}

func (p *PrometheusCollector) RecordReconnect(room domain.RoomName) {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnect(duration time.Duration) {
	p.connectDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordRoleResolution(source string) {
	p.roleResolutions.WithLabelValues(source).Inc()
}

func (p *PrometheusCollector) RecordScreenShareToggle(room domain.RoomName) {
	p.screenShareToggles.WithLabelValues(string(room)).Inc()
}
