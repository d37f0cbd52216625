package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AppointmentMetrics exposes counters for the appointment lifecycle and its notification fan-out.
type AppointmentMetrics struct {
	transitionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	autoCompletedTotal *prometheus.CounterVec
	slotQueriesTotal   *prometheus.CounterVec
	dispatchLatency    *prometheus.HistogramVec
}

func NewAppointmentMetrics(reg prometheus.Registerer) *AppointmentMetrics {
	m := &AppointmentMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcare",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcare",
			Subsystem: "appointments",
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes",
		}, []string{"channel", "status", "suppressed"}),
		autoCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcare",
			Subsystem: "appointments",
			Name:      "auto_completed_total",
			Help:      "Appointments completed because their time passed",
		}, []string{"source"}),
		slotQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcare",
			Subsystem: "appointments",
			Name:      "slot_queries_total",
			Help:      "Availability lookups by result",
		}, []string{"result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartcare",
			Subsystem: "appointments",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of individual notification sends",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.notificationsTotal, m.autoCompletedTotal, m.slotQueriesTotal, m.dispatchLatency)
	return m
}

func (m *AppointmentMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *AppointmentMetrics) ObserveNotification(channel, status string, suppressed bool) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status, strconv.FormatBool(suppressed)).Inc()
}

func (m *AppointmentMetrics) ObserveAutoCompleted(source string) {
	if m == nil {
		return
	}
	m.autoCompletedTotal.WithLabelValues(source).Inc()
}

func (m *AppointmentMetrics) ObserveSlotQuery(result string) {
	if m == nil {
		return
	}
	m.slotQueriesTotal.WithLabelValues(result).Inc()
}

func (m *AppointmentMetrics) ObserveDispatchLatency(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(channel).Observe(d.Seconds())
}
