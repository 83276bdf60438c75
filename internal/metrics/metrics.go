// Package metrics exposes the agent's state to Prometheus. The collector
// queries its providers at scrape time instead of maintaining counters,
// so it never races the session loop.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStateProvider exposes the current call session state.
type SessionStateProvider interface {
	SessionState(ctx context.Context) string
}

// MissedCallCounter returns the number of missed calls this run.
type MissedCallCounter interface {
	MissedCount() int64
}

// ReconnectStats exposes the SIP reconnection manager's counters.
type ReconnectStats interface {
	InFlight() bool
	Total() int64
}

// CallLogCounter returns call counts grouped by disposition.
type CallLogCounter interface {
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// AutodialQueue reports how many activities are waiting to be dialed.
type AutodialQueue interface {
	Len() int
}

// Collector is a prometheus.Collector that gathers softdial metrics at
// scrape time.
type Collector struct {
	session   SessionStateProvider
	missed    MissedCallCounter
	reconnect ReconnectStats
	callLog   CallLogCounter
	autodial  AutodialQueue
	startTime time.Time

	// Metric descriptors.
	sessionStateDesc      *prometheus.Desc
	missedCallsDesc       *prometheus.Desc
	reconnectTotalDesc    *prometheus.Desc
	reconnectInFlightDesc *prometheus.Desc
	callsTotalDesc        *prometheus.Desc
	autodialPendingDesc   *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// sessionStates is the closed set of states the session gauge reports.
var sessionStates = []string{
	"idle", "outgoing-trying", "outgoing-ringing",
	"incoming-ringing", "established", "terminating",
}

// NewCollector creates a new metrics collector. Any provider may be nil
// if unavailable.
func NewCollector(
	session SessionStateProvider,
	missed MissedCallCounter,
	reconnect ReconnectStats,
	callLog CallLogCounter,
	autodial AutodialQueue,
	startTime time.Time,
) *Collector {
	return &Collector{
		session:   session,
		missed:    missed,
		reconnect: reconnect,
		callLog:   callLog,
		autodial:  autodial,
		startTime: startTime,

		sessionStateDesc: prometheus.NewDesc(
			"softdial_session_state",
			"Call session state (1 for the current state, 0 otherwise)",
			[]string{"state"}, nil,
		),
		missedCallsDesc: prometheus.NewDesc(
			"softdial_missed_calls_total",
			"Incoming calls the remote caller abandoned before answer",
			nil, nil,
		),
		reconnectTotalDesc: prometheus.NewDesc(
			"softdial_reconnect_attempts_total",
			"SIP reconnection attempts since the process started",
			nil, nil,
		),
		reconnectInFlightDesc: prometheus.NewDesc(
			"softdial_reconnect_in_flight",
			"Whether a reconnection cycle is currently running",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"softdial_calls_total",
			"Total number of finished calls (from the call log)",
			[]string{"disposition"}, nil,
		),
		autodialPendingDesc: prometheus.NewDesc(
			"softdial_autodial_pending",
			"Activities waiting in the autodial queue",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"softdial_uptime_seconds",
			"Seconds since the softdial process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionStateDesc
	ch <- c.missedCallsDesc
	ch <- c.reconnectTotalDesc
	ch <- c.reconnectInFlightDesc
	ch <- c.callsTotalDesc
	ch <- c.autodialPendingDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Session state gauges (one per known state).
	if c.session != nil {
		current := c.session.SessionState(ctx)
		for _, state := range sessionStates {
			val := 0.0
			if state == current {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.sessionStateDesc, prometheus.GaugeValue, val, state,
			)
		}
	}

	// Missed call counter.
	if c.missed != nil {
		ch <- prometheus.MustNewConstMetric(
			c.missedCallsDesc, prometheus.CounterValue,
			float64(c.missed.MissedCount()),
		)
	}

	// Reconnection stats.
	if c.reconnect != nil {
		ch <- prometheus.MustNewConstMetric(
			c.reconnectTotalDesc, prometheus.CounterValue,
			float64(c.reconnect.Total()),
		)
		inFlight := 0.0
		if c.reconnect.InFlight() {
			inFlight = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.reconnectInFlightDesc, prometheus.GaugeValue, inFlight,
		)
	}

	// Call volume counters by disposition.
	if c.callLog != nil {
		counts, err := c.callLog.CountByDisposition(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by disposition", "error", err)
		} else {
			for _, disposition := range []string{"completed", "missed", "rejected", "aborted"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[disposition]), disposition,
				)
			}
		}
	}

	// Autodial backlog gauge.
	if c.autodial != nil {
		ch <- prometheus.MustNewConstMetric(
			c.autodialPendingDesc, prometheus.GaugeValue,
			float64(c.autodial.Len()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.CounterValue,
		time.Since(c.startTime).Seconds(),
	)
}
