package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TimeshiftRequests counts catch-up requests by their final outcome.
// Outcomes are "ok", "auth", "not_found", "unsupported", "upstream" and "error".
var TimeshiftRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_timeshift_requests_total",
	Help: "Catch-up requests by outcome",
}, []string{"outcome"})

// LiveRequests counts live playback requests by outcome, using the same
// labels as TimeshiftRequests.
var LiveRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_timeshift_live_requests_total",
	Help: "Live playback requests by outcome",
}, []string{"outcome"})

// DialectFallbacks counts retries against the path-form dialect after a 400 on the
// query form. The "result" label is "success" when the fallback was accepted.
var DialectFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_timeshift_dialect_fallbacks_total",
	Help: "Dialect fallback attempts",
}, []string{"result"})

// BytesRelayed tracks the total number of body bytes relayed to clients.
var BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kptv_timeshift_bytes_relayed_total",
	Help: "Total bytes relayed from providers to clients",
})

// ActiveRelays is the number of upstream bodies currently being relayed.
var ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kptv_timeshift_active_relays",
	Help: "Number of active catch-up relays",
})

// UpstreamErrors counts provider failures by type ("timeout", "connection", "status").
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kptv_timeshift_upstream_errors_total",
	Help: "Provider request failures",
}, []string{"error_type"})
