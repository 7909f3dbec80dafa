// Package metrics registers the mirror's Prometheus series and fans out
// structured metric events to in-process handlers such as the dashboard.
//
// Exposed series:
//
//	bybitmirror_frames_applied_total{entity}
//	bybitmirror_frames_dropped_total{reason}
//	bybitmirror_responses_applied_total{entity}
//	bybitmirror_responses_rejected_total{entity}
//	bybitmirror_connection_state{connection}
//	bybitmirror_reconnects_total{connection}
//	bybitmirror_rest_requests_total{path,status}
//	bybitmirror_rest_rate_limit_used{path}
//	bybitmirror_store_records{store}
//	bybitmirror_metric_events_total{component,name}
//	go_* and process_* runtime series
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bybitmirror"

// Registry holds every series of this process.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	FramesApplied = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_applied_total",
		Help:      "WebSocket frames folded into an entity store",
	}, []string{"entity"})

	FramesDropped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "WebSocket frames ignored by the dispatcher",
	}, []string{"reason"})

	ResponsesApplied = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_applied_total",
		Help:      "REST responses folded into an entity store",
	}, []string{"entity"})

	ResponsesRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "responses_rejected_total",
		Help:      "REST responses dropped for a failing status or return code",
	}, []string{"entity"})

	ConnectionState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current lifecycle state per connection (0 connecting, 1 subscribed, 2 streaming, 3 closing, 4 failed)",
	}, []string{"connection"})

	Reconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Connection attempts after the first",
	}, []string{"connection"})

	RESTRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rest_requests_total",
		Help:      "REST requests by path and HTTP status",
	}, []string{"path", "status"})

	RESTRateLimitUsed = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rest_rate_limit_used",
		Help:      "Requests consumed from the exchange rate limit, as last reported per path",
	}, []string{"path"})

	StoreRecords = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_records",
		Help:      "Records currently held per store",
	}, []string{"store"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
