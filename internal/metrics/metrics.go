package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sync holds client-side counters for the optimistic messaging path.
type Sync struct {
	Sends        *prometheus.CounterVec
	Rollbacks    *prometheus.CounterVec
	PollAdopts   prometheus.Counter
	PollFailures prometheus.Counter
	PushAppends  prometheus.Counter
}

// NewSync creates the client counters and registers them on reg when reg is
// non-nil. A nil *Sync is valid and records nothing.
func NewSync(reg prometheus.Registerer) *Sync {
	s := &Sync{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "sync",
			Name:      "sends_total",
			Help:      "Optimistic sends by outcome (confirmed, failed, rejected).",
		}, []string{"outcome"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "sync",
			Name:      "rollbacks_total",
			Help:      "Rollbacks after failed sends by policy.",
		}, []string{"policy"}),
		PollAdopts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "sync",
			Name:      "poll_adoptions_total",
			Help:      "Poll cycles that adopted a longer authoritative list.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "sync",
			Name:      "poll_failures_total",
			Help:      "Poll cycles that failed to fetch.",
		}),
		PushAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "sync",
			Name:      "push_appends_total",
			Help:      "Messages appended from push events.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.Sends, s.Rollbacks, s.PollAdopts, s.PollFailures, s.PushAppends)
	}
	return s
}

func (s *Sync) Send(outcome string) {
	if s == nil {
		return
	}
	s.Sends.WithLabelValues(outcome).Inc()
}

func (s *Sync) Rollback(policy string) {
	if s == nil {
		return
	}
	s.Rollbacks.WithLabelValues(policy).Inc()
}

func (s *Sync) PollAdopted() {
	if s == nil {
		return
	}
	s.PollAdopts.Inc()
}

func (s *Sync) PollFailed() {
	if s == nil {
		return
	}
	s.PollFailures.Inc()
}

func (s *Sync) PushAppended() {
	if s == nil {
		return
	}
	s.PushAppends.Inc()
}

// Relay holds server-side collectors for the reference relay.
type Relay struct {
	MessagesStored  prometheus.Counter
	ActiveSockets   prometheus.Gauge
	PushDeliveries  *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	RetentionPurged prometheus.Counter
}

// NewRelay creates and registers relay collectors on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	r := &Relay{
		MessagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "relay",
			Name:      "messages_stored_total",
			Help:      "Messages persisted by the relay.",
		}),
		ActiveSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "counselchat",
			Subsystem: "relay",
			Name:      "active_sockets",
			Help:      "Currently registered push sockets.",
		}),
		PushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "relay",
			Name:      "push_deliveries_total",
			Help:      "new_message frames written to sockets by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "relay",
			Name:      "http_requests_total",
			Help:      "REST requests by route and status code.",
		}, []string{"route", "code"}),
		RetentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "counselchat",
			Subsystem: "relay",
			Name:      "retention_purged_total",
			Help:      "Messages deleted by retention runs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.MessagesStored, r.ActiveSockets, r.PushDeliveries, r.HTTPRequests, r.RetentionPurged)
	}
	return r
}
