package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "animstream"

// Recorder exports session counters to a Prometheus registerer.
type Recorder struct {
	commands    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	connections prometheus.Gauge
	connected   prometheus.Counter
	broadcast   prometheus.Counter
	archive     prometheus.Counter
}

func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Animation commands executed, by action.",
		}, []string{"action"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Rejected client messages and requests, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open realtime channels.",
		}),
		connected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Realtime channels accepted.",
		}),
		broadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Frames that could not be delivered to a channel.",
		}),
		archive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Archive writes that failed.",
		}),
	}
	for _, c := range []prometheus.Collector{r.commands, r.rejected, r.connections, r.connected, r.broadcast, r.archive} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) RecordCommand(action string) {
	r.commands.WithLabelValues(action).Inc()
}

func (r *Recorder) RecordRejected(reason string) {
	r.rejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordConnection(open bool) {
	if open {
		r.connected.Inc()
		r.connections.Inc()
		return
	}
	r.connections.Dec()
}

func (r *Recorder) RecordBroadcastFailure() {
	r.broadcast.Inc()
}

func (r *Recorder) RecordArchiveFailure() {
	r.archive.Inc()
}
