package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State     string
	ExpiresAt time.Time // zero when no API session exists
}

// Collector reports the state of one session at scrape time.
type Collector struct {
	snapshot func() Snapshot
	now      func() time.Time
	states   []string

	stateDesc  *prometheus.Desc
	expiryDesc *prometheus.Desc
}

// NewCollector creates a collector. states lists every state name so
// that inactive states are reported as 0.
func NewCollector(snapshot func() Snapshot, states []string) *Collector {
	return &Collector{
		snapshot: snapshot,
		now:      time.Now,
		states:   states,
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "state"),
			"Current handshake state of the session (1 for the active state).",
			[]string{"state"}, nil,
		),
		expiryDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "expires_in_seconds"),
			"Seconds until the API session expires. Absent without a session.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.expiryDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	for _, st := range c.states {
		v := 0.0
		if st == snap.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, v, st)
	}

	if !snap.ExpiresAt.IsZero() {
		left := snap.ExpiresAt.Sub(c.now()).Seconds()
		ch <- prometheus.MustNewConstMetric(c.expiryDesc, prometheus.GaugeValue, left)
	}
}
