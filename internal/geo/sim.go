package geo

import (
	"context"
	"sync"
	"time"

	"roadassist/internal/model"
)

// Simulated advances a synthetic position toward a fixed target at a
// constant step on a fixed timer. It is deterministic and behaves exactly
// like a live source at the interface boundary, which makes it usable in
// demos and tests without touching the tracking logic.
type Simulated struct {
	mu       sync.Mutex
	current  model.GeoPoint
	target   model.GeoPoint
	stepM    float64
	interval time.Duration
	arrived  bool
}

// NewSimulated starts at start and walks toward target by stepMeters every
// interval.
func NewSimulated(start, target model.GeoPoint, stepMeters float64, interval time.Duration) *Simulated {
	if stepMeters <= 0 {
		stepMeters = 25
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Simulated{current: start, target: target, stepM: stepMeters, interval: interval}
}

func (s *Simulated) GetOnce(ctx context.Context) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position(), nil
}

func (s *Simulated) Watch(ctx context.Context, onUpdate func(Position), onError func(error)) (WatchHandle, error) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				onUpdate(s.advance())
			}
		}
	}()
	return &watchHandle{cancel: cancel}, nil
}

// Advance performs one synthetic step immediately. Exposed so tests can
// drive the simulation without waiting on the timer.
func (s *Simulated) Advance() Position { return s.advance() }

func (s *Simulated) advance() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.arrived {
		s.current, s.arrived = StepToward(s.current, s.target, s.stepM)
	}
	return s.position()
}

func (s *Simulated) position() Position {
	p := Position{Point: s.current, TS: time.Now()}
	if !s.arrived {
		h := BearingDegrees(s.current, s.target)
		p.HeadingDeg = &h
		p.SpeedMS = s.stepM / s.interval.Seconds()
	}
	return p
}
