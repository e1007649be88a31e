// Package metrics collects Prometheus metrics for the request pipeline and
// the token lifecycle.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the interface the gateway records through. A nil *Collector
// is a valid Recorder that drops everything, so metrics stay optional.
type Recorder interface {
	RecordRequest(method string, statusCode int)
	RecordDedupHit()
	RecordRefresh(outcome string)
	RecordSessionClear(reason string)
}

// Refresh outcomes.
const (
	RefreshOK      = "ok"
	RefreshFailed  = "failed"
	RefreshStale   = "stale"
	RefreshSkipped = "skipped"
)

// Collector implements Recorder on top of a Prometheus registry.
type Collector struct {
	requests      *prometheus.CounterVec
	dedupHits     prometheus.Counter
	refreshes     *prometheus.CounterVec
	sessionClears *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activa_client_requests_total",
			Help: "Outbound API requests by method and HTTP status code.",
		}, []string{"method", "status_code"}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activa_client_dedup_hits_total",
			Help: "GET calls coalesced onto an already in-flight request.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activa_client_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		sessionClears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activa_client_session_clears_total",
			Help: "Session clears by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.requests,
		c.dedupHits,
		c.refreshes,
		c.sessionClears,
	)

	return c
}

func (c *Collector) RecordRequest(method string, statusCode int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordDedupHit() {
	if c == nil {
		return
	}
	c.dedupHits.Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSessionClear(reason string) {
	if c == nil {
		return
	}
	c.sessionClears.WithLabelValues(reason).Inc()
}
