package track

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"roadassist/internal/apiclient"
	"roadassist/internal/geo"
	"roadassist/internal/maprender"
	"roadassist/internal/metrics"
	"roadassist/internal/model"
	"roadassist/internal/store"
)

// UI receives the reducer's user-visible effects. Implementations stay
// thin; all decisions happen in the reducer.
type UI interface {
	Render(e Effect)
}

// Reporter pushes the viewer's own position to the backend. Optional; the
// owner side has none.
type Reporter interface {
	Report(ctx context.Context, p model.GeoPoint)
}

// ControllerConfig wires one tracking run.
type ControllerConfig struct {
	PollInterval time.Duration
	MaxBackoff   time.Duration
	Reduce       Config
}

// Controller owns one polling loop against one service request and every
// resource attached to it: the map renderer, the geolocation watch, and
// the local active-job pointer. One controller per request, disposed on
// terminal or Stop.
type Controller struct {
	cfg      ControllerConfig
	api      *apiclient.Client
	store    store.Store
	renderer *maprender.Renderer
	source   geo.Source
	reporter Reporter
	ui       UI

	phone  string
	viewer model.Role

	mu    sync.Mutex
	st    State
	seq   uint64
	watch geo.WatchHandle

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewController builds a controller. source and reporter may be nil for
// viewers that do not supply their own position.
func NewController(cfg ControllerConfig, api *apiclient.Client, st store.Store, renderer *maprender.Renderer, source geo.Source, reporter Reporter, ui UI) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Second
	}
	if cfg.Reduce.ArrivalRadiusM <= 0 {
		cfg.Reduce.ArrivalRadiusM = 30
	}
	return &Controller{
		cfg:      cfg,
		api:      api,
		store:    st,
		renderer: renderer,
		source:   source,
		reporter: reporter,
		ui:       ui,
		done:     make(chan struct{}),
	}
}

// Start begins polling for requestID as viewer and returns immediately.
// The loop ends on terminal status, Stop, or context cancellation; Done
// reports which.
func (c *Controller) Start(ctx context.Context, requestID string, viewer model.Role, phone string) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Lock()
	c.st = NewState(requestID, viewer)
	c.viewer = viewer
	c.phone = phone
	c.mu.Unlock()

	go c.loop(ctx, requestID)
}

// Done closes when the controller has fully stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Stop cancels the polling timer and any active geolocation watch
// together. Idempotent; this is the single disposal path.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.watch != nil {
			c.watch.Stop()
			c.watch = nil
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Controller) loop(ctx context.Context, requestID string) {
	defer c.Stop()
	timer := time.NewTimer(0) // first poll immediately
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.mu.Lock()
		c.seq++
		seq := c.seq
		terminal := c.st.Terminal
		failures := c.st.Failures
		c.mu.Unlock()
		if terminal {
			return
		}
		// Polls run detached so a slow response never delays the next
		// tick; application is serialized by sequence in apply.
		go c.poll(ctx, seq, requestID)
		timer.Reset(c.nextDelay(failures))
	}
}

// nextDelay applies jittered backoff after consecutive failures.
func (c *Controller) nextDelay(failures int) time.Duration {
	d := c.cfg.PollInterval
	for i := 0; i < failures && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	if failures > 0 {
		// +-20% jitter keeps stalled clients from thundering back in sync
		j := time.Duration(rand.Int63n(int64(d) / 5))
		d = d - d/10 + j
	}
	return d
}

func (c *Controller) poll(ctx context.Context, seq uint64, requestID string) {
	req, err := c.api.GetRequest(ctx, c.viewer, requestID, c.phone)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("poll %s failed: %v", requestID, err)
		metrics.Polls.WithLabelValues("error").Inc()
		c.Apply(ctx, PollFailure{Seq: seq, Err: err})
		return
	}
	metrics.Polls.WithLabelValues(string(req.Status)).Inc()
	c.Apply(ctx, PollResult{Seq: seq, Req: req})
}

// Apply feeds one input through the reducer and performs its effects.
// Exposed so action handlers (OTP, cancel, complete) share the same
// serialized path as poll results.
func (c *Controller) Apply(ctx context.Context, in Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.Terminal {
		metrics.PollsDiscarded.WithLabelValues(string(DiscardTerminal)).Inc()
		return
	}
	// Two-tab guard: apply side effects only while this controller still
	// holds the active-job pointer. An unreadable pointer skips this
	// input rather than applying blind; the next poll re-checks.
	holder, err := c.store.ActiveRequestID(ctx)
	if err != nil {
		log.Printf("active request check failed, skipping update: %v", err)
		return
	}
	if holder != "" && holder != c.st.RequestID {
		log.Printf("request %s no longer the active job (now %s), stopping", c.st.RequestID, holder)
		go c.Stop()
		return
	}
	next, effects, discard := Reduce(c.cfg.Reduce, c.st, in, time.Now())
	c.st = next
	if discard != DiscardNone {
		metrics.PollsDiscarded.WithLabelValues(string(discard)).Inc()
		return
	}
	for _, e := range effects {
		c.perform(ctx, e)
	}
}

// perform executes one effect. Map and store failures are non-fatal; the
// status text path keeps working even when the widget never loads.
func (c *Controller) perform(ctx context.Context, e Effect) {
	switch v := e.(type) {
	case InitMap:
		c.renderer.EnsureInitialized(v.Center)
	case UpdateMarkers:
		c.renderer.EnsureInitialized(v.Owner)
		if c.renderer.UpdateMovingMarker(v.Mechanic) {
			c.renderer.UpdateHeading(nil, 0)
		}
		c.renderer.DrawRoute(ctx, v.Mechanic, v.Owner)
	case StartOwnWatch:
		c.startWatch(ctx)
	case Terminal:
		c.finish(ctx, v.Status)
	}
	c.ui.Render(e)
}

func (c *Controller) startWatch(ctx context.Context) {
	if c.source == nil || c.watch != nil {
		return
	}
	h, err := c.source.Watch(ctx, func(p geo.Position) {
		c.onOwnPosition(ctx, p)
	}, func(err error) {
		// Surfaced once per failure; the status polling loop continues
		// regardless.
		log.Printf("location watch error: %v", err)
		c.ui.Render(LocationError{Err: err})
	})
	if err != nil {
		log.Printf("location watch unavailable: %v", err)
		c.ui.Render(LocationError{Err: err})
		return
	}
	c.watch = h
}

// onOwnPosition handles the position stream. It feeds the map and the
// reporter only; own positions never drive status transitions.
func (c *Controller) onOwnPosition(ctx context.Context, p geo.Position) {
	c.mu.Lock()
	if c.st.Terminal {
		c.mu.Unlock()
		return
	}
	owner := c.st.OwnerLoc
	c.mu.Unlock()

	if c.renderer.UpdateMovingMarker(p.Point) {
		c.renderer.UpdateHeading(p.HeadingDeg, p.SpeedMS)
		if owner != nil {
			c.renderer.DrawRoute(ctx, p.Point, *owner)
		}
	}
	if c.reporter != nil {
		c.reporter.Report(ctx, p.Point)
	}
}

// finish runs the terminal exit exactly once: release the active-job
// pointer (only if still the holder), hand off the rating pointer on
// completion, archive the job, stop everything.
func (c *Controller) finish(ctx context.Context, status model.RequestStatus) {
	requestID := c.st.RequestID
	if err := c.store.ClearActiveRequest(ctx, requestID); err != nil {
		log.Printf("clear active request: %v", err)
	}
	if status == model.StatusCompleted {
		if err := c.store.SetCompletedRequest(ctx, requestID); err != nil {
			log.Printf("save completed pointer: %v", err)
		}
	}
	if err := c.store.AppendJob(ctx, model.JobRecord{
		RequestID: requestID,
		Role:      c.viewer,
		Status:    status,
	}); err != nil {
		log.Printf("archive job: %v", err)
	}
	go c.Stop()
}

// LocationError is emitted outside the reducer when the position stream
// fails; the UI shows one actionable enable-location prompt.
type LocationError struct{ Err error }

func (LocationError) isEffect() {}
