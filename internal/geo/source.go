package geo

import (
	"context"
	"errors"
	"time"

	"roadassist/internal/model"
)

// Position is one reading from a position source.
type Position struct {
	Point model.GeoPoint
	// HeadingDeg is the device-reported heading, or nil when the source
	// does not provide one.
	HeadingDeg *float64
	// SpeedMS is ground speed in m/s; 0 when unknown.
	SpeedMS float64
	TS      time.Time
}

var (
	// ErrPermissionDenied means the platform refused access to location.
	ErrPermissionDenied = errors.New("geo: permission denied")
	// ErrUnavailable means no position can be produced right now.
	ErrUnavailable = errors.New("geo: position unavailable")
)

// Source supplies the local party's own position as a one-shot read and as
// a continuous stream. Implementations are interchangeable and selected by
// configuration, never by branching inside the tracking logic.
type Source interface {
	// GetOnce returns the current position or ErrPermissionDenied /
	// ErrUnavailable.
	GetOnce(ctx context.Context) (Position, error)
	// Watch streams positions until the context is cancelled or Stop is
	// called on the returned handle. onError fires on failures without
	// terminating the stream silently.
	Watch(ctx context.Context, onUpdate func(Position), onError func(error)) (WatchHandle, error)
}

// WatchHandle cancels a running watch. Stop is idempotent.
type WatchHandle interface {
	Stop()
}

type watchHandle struct {
	cancel context.CancelFunc
}

func (h *watchHandle) Stop() { h.cancel() }
