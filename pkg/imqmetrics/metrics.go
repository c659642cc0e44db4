// Package imqmetrics exposes imq's operational counters/gauges over
// Prometheus, superseding the pure-interface metrics contract a
// stdlib-only design would need to hand-roll: prometheus/client_golang
// already provides a battle-tested registry, exposition-format encoder, and
// push/pull collectors, so imqd wires it directly rather than reinventing
// any of that.
package imqmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge imqd registers. Construct once per
// process with New and pass it to imq.Queue event handlers.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	DelayedPromoted  *prometheus.CounterVec
	SweeperRescues   *prometheus.CounterVec
	ScriptFailures   *prometheus.CounterVec
	WatcherOwned     *prometheus.GaugeVec
	Errors           *prometheus.CounterVec
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer for the process-wide default.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "messages_sent_total", Help: "Messages published via Send.",
		}, []string{"queue"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "messages_received_total", Help: "Messages delivered to a handler.",
		}, []string{"queue"}),
		DelayedPromoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "delayed_promoted_total", Help: "Delayed messages promoted to the main list.",
		}, []string{"queue"}),
		SweeperRescues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "sweeper_rescues_total", Help: "Messages returned to the main list by the safe-delivery sweeper.",
		}, []string{"queue"}),
		ScriptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "script_failures_total", Help: "Server-side script load/eval failures.",
		}, []string{"script"}),
		WatcherOwned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "imq", Name: "watcher_owned", Help: "1 if this process currently owns the watcher lock for an address.",
		}, []string{"addr"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imq", Name: "errors_total", Help: "Errors surfaced through OnError, by source.",
		}, []string{"queue", "source"}),
	}
	reg.MustRegister(
		m.MessagesSent, m.MessagesReceived, m.DelayedPromoted,
		m.SweeperRescues, m.ScriptFailures, m.WatcherOwned, m.Errors,
	)
	return m
}
