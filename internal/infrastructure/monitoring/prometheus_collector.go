package monitoring

import (
	"tipcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	workersAlive      prometheus.Gauge

	connectionsTotal    prometheus.Counter
	gateRejectionsTotal *prometheus.CounterVec
	signalMessagesTotal *prometheus.CounterVec
	tipsTotal           prometheus.Counter
	tipAmountTotal      prometheus.Counter
	viewerFlushesTotal  prometheus.Counter
	workerDeathsTotal   prometheus.Counter

	roomParticipants *prometheus.GaugeVec
	workerLoad       *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tipcast_connections_active",
			Help: "Number of live signaling connections",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tipcast_rooms_active",
			Help: "Number of registered stream rooms",
		}),

		workersAlive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tipcast_workers_alive",
			Help: "Number of live engine workers",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipcast_connections_total",
			Help: "Total signaling connections accepted",
		}),

		gateRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipcast_gate_rejections_total",
			Help: "Admission rejections by scope",
		}, []string{"scope"}),

		signalMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tipcast_signal_messages_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),

		tipsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipcast_tips_total",
			Help: "Tips accepted at the signaling boundary",
		}),

		tipAmountTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipcast_tip_amount_total",
			Help: "Sum of accepted tip amounts",
		}),

		viewerFlushesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipcast_viewer_count_flushes_total",
			Help: "Viewer count flush cycles executed",
		}),

		workerDeathsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tipcast_worker_deaths_total",
			Help: "Engine workers lost to crashes",
		}),

		roomParticipants: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tipcast_room_participants",
			Help: "Participants per room by role",
		}, []string{"room_id", "role"}),

		workerLoad: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tipcast_worker_load",
			Help: "Rooms assigned per worker",
		}, []string{"worker_id"}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) RecordGateRejection(scope string) {
	p.gateRejectionsTotal.WithLabelValues(scope).Inc()
}

func (p *PrometheusCollector) RecordSignalMessage(msgType string) {
	p.signalMessagesTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) RecordTip(amount int64) {
	p.tipsTotal.Inc()
	p.tipAmountTotal.Add(float64(amount))
}

func (p *PrometheusCollector) RecordViewerFlush() {
	p.viewerFlushesTotal.Inc()
}

func (p *PrometheusCollector) RecordWorkerDeath() {
	p.workerDeathsTotal.Inc()
}

func (p *PrometheusCollector) SetRoomsActive(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetWorkersAlive(n int) {
	p.workersAlive.Set(float64(n))
}

func (p *PrometheusCollector) SetRoomParticipants(roomID domain.RoomID, viewers, performers int) {
	p.roomParticipants.WithLabelValues(string(roomID), "viewer").Set(float64(viewers))
	p.roomParticipants.WithLabelValues(string(roomID), "performer").Set(float64(performers))
}

func (p *PrometheusCollector) SetWorkerLoad(workerID domain.WorkerID, load int) {
	p.workerLoad.WithLabelValues(string(workerID)).Set(float64(load))
}

// ResetRoomParticipants clears all per-room label sets. Callers rebuild the
// gauge from a registry snapshot so deleted rooms do not linger in the
// scrape output.
func (p *PrometheusCollector) ResetRoomParticipants() {
	p.roomParticipants.Reset()
}
