package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the client.
	Registry = prometheus.NewRegistry()

	// Polls counts poll outcomes by applied status (or "error").
	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_polls_total", Help: "Poll results by applied status."},
		[]string{"status"},
	)
	// PollsDiscarded counts responses dropped before application.
	PollsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_polls_discarded_total", Help: "Poll responses discarded by reason."},
		[]string{"reason"},
	)
	// MarkerMoves counts applied vs jitter-suppressed marker updates.
	MarkerMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "map_marker_updates_total", Help: "Moving-marker updates by outcome."},
		[]string{"outcome"},
	)
	// RouteDraws counts directions requests by outcome.
	RouteDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "map_route_draws_total", Help: "Route computations by outcome."},
		[]string{"outcome"},
	)
	// HeadingRenders counts applied vs suppressed rotation renders.
	HeadingRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "map_heading_renders_total", Help: "Heading re-renders by outcome."},
		[]string{"outcome"},
	)
	// APIErrors counts backend call failures by operation.
	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_errors_total", Help: "Backend call failures by operation."},
		[]string{"op"},
	)
	// LocationReports counts own-position reports by transport and outcome.
	LocationReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "location_reports_total", Help: "Own-position reports by transport and outcome."},
		[]string{"transport", "outcome"},
	)
)

// RegisterDefault registers collectors to the package registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Polls)
		Registry.MustRegister(PollsDiscarded)
		Registry.MustRegister(MarkerMoves)
		Registry.MustRegister(RouteDraws)
		Registry.MustRegister(HeadingRenders)
		Registry.MustRegister(APIErrors)
		Registry.MustRegister(LocationReports)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
