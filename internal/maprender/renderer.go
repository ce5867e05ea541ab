package maprender

import (
	"context"
	"log"
	"sync"
	"time"

	"roadassist/internal/geo"
	"roadassist/internal/metrics"
	"roadassist/internal/model"
)

// Config holds the rendering thresholds. Values are tunable; the defaults
// are the ones that kept markers steady in field use.
type Config struct {
	// MinMoveMeters suppresses marker moves below this displacement.
	MinMoveMeters float64
	// RouteRecalcMeters is how far the moving party must displace from the
	// last successful route origin before the route is recomputed.
	RouteRecalcMeters float64
	// MinRotateDeg suppresses rotation re-renders below this delta.
	MinRotateDeg float64
	// HeadingFactor is the exponential smoothing factor.
	HeadingFactor float64
	// HeadingStepCapDeg caps the rendered heading change in one update.
	HeadingStepCapDeg float64
	// MinHeadingSpeedMS is the speed above which the device heading is
	// trusted over derived bearings.
	MinHeadingSpeedMS float64
	AnimateDuration   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinMoveMeters:     8,
		RouteRecalcMeters: 60,
		MinRotateDeg:      4,
		HeadingFactor:     0.15,
		HeadingStepCapDeg: 30,
		MinHeadingSpeedMS: 1.5,
		AnimateDuration:   300 * time.Millisecond,
	}
}

// Renderer owns the two markers, the drawn route, and the camera for one
// tracked request. All methods are safe to call before the surface is
// ready; failed operations retry lazily on the next call. Safe for use
// from the poll path and the position watch concurrently.
type Renderer struct {
	surface  Surface
	provider DirectionsProvider
	cfg      Config

	mu sync.Mutex

	initialized bool
	fitted      bool

	haveStationary bool
	stationary     model.GeoPoint

	haveMoving  bool
	lastApplied model.GeoPoint
	havePrev    bool
	prevApplied model.GeoPoint

	haveHeading bool
	smoothed    float64
	heading     float64

	route       *Route
	routeOrigin model.GeoPoint
}

func New(surface Surface, provider DirectionsProvider, cfg Config) *Renderer {
	if cfg.MinMoveMeters <= 0 {
		cfg.MinMoveMeters = DefaultConfig().MinMoveMeters
	}
	if cfg.RouteRecalcMeters <= 0 {
		cfg.RouteRecalcMeters = DefaultConfig().RouteRecalcMeters
	}
	if cfg.HeadingFactor <= 0 {
		cfg.HeadingFactor = DefaultConfig().HeadingFactor
	}
	if cfg.HeadingStepCapDeg <= 0 {
		cfg.HeadingStepCapDeg = DefaultConfig().HeadingStepCapDeg
	}
	if cfg.MinRotateDeg <= 0 {
		cfg.MinRotateDeg = DefaultConfig().MinRotateDeg
	}
	if cfg.AnimateDuration <= 0 {
		cfg.AnimateDuration = DefaultConfig().AnimateDuration
	}
	return &Renderer{surface: surface, provider: provider, cfg: cfg}
}

// EnsureInitialized creates the map and the stationary marker on the first
// call with a valid center. Later calls no-op.
func (r *Renderer) EnsureInitialized(center model.GeoPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return
	}
	if err := r.surface.Init(center); err != nil {
		log.Printf("map init deferred: %v", err)
		return
	}
	if err := r.surface.PlaceMarker(MarkerStationary, center, "Pickup"); err != nil {
		log.Printf("stationary marker deferred: %v", err)
		return
	}
	r.stationary = center
	r.haveStationary = true
	r.initialized = true
}

// Initialized reports whether the map exists yet.
func (r *Renderer) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// UpdateMovingMarker relocates the moving marker, suppressing displacements
// below the jitter threshold. Reports whether the move was applied.
func (r *Renderer) UpdateMovingMarker(p model.GeoPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return false
	}
	if !r.haveMoving {
		if err := r.surface.PlaceMarker(MarkerMoving, p, "En route"); err != nil {
			return false
		}
		r.haveMoving = true
		r.lastApplied = p
		metrics.MarkerMoves.WithLabelValues("placed").Inc()
		r.maybeFit()
		return true
	}
	if geo.DistanceMeters(r.lastApplied, p) < r.cfg.MinMoveMeters {
		metrics.MarkerMoves.WithLabelValues("suppressed").Inc()
		return false
	}
	if err := r.surface.MoveMarker(MarkerMoving, p, r.cfg.AnimateDuration); err != nil {
		return false
	}
	r.prevApplied, r.havePrev = r.lastApplied, true
	r.lastApplied = p
	metrics.MarkerMoves.WithLabelValues("moved").Inc()
	r.maybeFit()
	return true
}

// UpdateHeading smooths the marker rotation. rawDeg may be nil when the
// device reports none; the fallback chain is last-two-positions bearing,
// then the nearest upcoming route segment, then the previous heading.
func (r *Renderer) UpdateHeading(rawDeg *float64, speedMS float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized || !r.haveMoving {
		return
	}
	raw, ok := r.pickHeading(rawDeg, speedMS)
	if !ok {
		return
	}
	if !r.haveHeading {
		r.smoothed = geo.NormalizeHeading(raw)
		r.heading = r.smoothed
		r.haveHeading = true
		if err := r.surface.RotateMarker(MarkerMoving, r.heading); err == nil {
			metrics.HeadingRenders.WithLabelValues("applied").Inc()
		}
		return
	}
	// The filter advances on every update so it converges even while the
	// render floor suppresses the screen; only the rendered value is gated.
	step := geo.ShortestAngularDelta(r.smoothed, raw) * r.cfg.HeadingFactor
	step = clamp(step, r.cfg.HeadingStepCapDeg)
	r.smoothed = geo.NormalizeHeading(r.smoothed + step)

	d := geo.ShortestAngularDelta(r.heading, r.smoothed)
	if d < r.cfg.MinRotateDeg && d > -r.cfg.MinRotateDeg {
		metrics.HeadingRenders.WithLabelValues("suppressed").Inc()
		return
	}
	next := geo.NormalizeHeading(r.heading + clamp(d, r.cfg.HeadingStepCapDeg))
	if err := r.surface.RotateMarker(MarkerMoving, next); err != nil {
		return
	}
	r.heading = next
	metrics.HeadingRenders.WithLabelValues("applied").Inc()
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Heading returns the currently rendered heading.
func (r *Renderer) Heading() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heading, r.haveHeading
}

func (r *Renderer) pickHeading(rawDeg *float64, speedMS float64) (float64, bool) {
	if rawDeg != nil && speedMS >= r.cfg.MinHeadingSpeedMS {
		return *rawDeg, true
	}
	if r.havePrev {
		if geo.DistanceMeters(r.prevApplied, r.lastApplied) > 1 {
			return geo.BearingDegrees(r.prevApplied, r.lastApplied), true
		}
	}
	if b, ok := r.routeSegmentBearing(); ok {
		return b, ok
	}
	return 0, false
}

// routeSegmentBearing derives a road-snapped heading from the nearest
// upcoming segment of the drawn route.
func (r *Renderer) routeSegmentBearing() (float64, bool) {
	if r.route == nil || len(r.route.Points) < 2 {
		return 0, false
	}
	best, bestDist := 0, -1.0
	for i, pt := range r.route.Points {
		d := geo.DistanceMeters(r.lastApplied, pt)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= len(r.route.Points)-1 {
		best = len(r.route.Points) - 2
	}
	return geo.BearingDegrees(r.route.Points[best], r.route.Points[best+1]), true
}

// DrawRoute computes and renders the driving route from the moving party
// to the stationary one. Recomputes only after the moving party displaces
// beyond the recalculation threshold; provider failures leave the previous
// route rendered. Returns the current route, if any.
func (r *Renderer) DrawRoute(ctx context.Context, from, to model.GeoPoint) *Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized || r.provider == nil {
		return r.route
	}
	if r.route != nil && geo.DistanceMeters(r.routeOrigin, from) < r.cfg.RouteRecalcMeters {
		return r.route
	}
	route, err := r.provider.Route(ctx, from, to)
	if err != nil {
		metrics.RouteDraws.WithLabelValues("failed").Inc()
		log.Printf("route compute failed, keeping previous: %v", err)
		return r.route
	}
	if err := r.surface.DrawPolyline("route", route.Points); err != nil {
		metrics.RouteDraws.WithLabelValues("failed").Inc()
		return r.route
	}
	r.route = &route
	r.routeOrigin = from
	metrics.RouteDraws.WithLabelValues("drawn").Inc()
	return r.route
}

// maybeFit frames both markers exactly once, the first time both exist.
func (r *Renderer) maybeFit() {
	if r.fitted || !r.haveStationary || !r.haveMoving {
		return
	}
	if err := r.surface.FitBounds(r.stationary, r.lastApplied); err != nil {
		return
	}
	r.fitted = true
}
