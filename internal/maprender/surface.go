// Package maprender adapts tracking state onto a mapping widget: two
// markers, a route polyline, and camera framing, with noise suppression so
// GPS jitter never reaches the screen.
package maprender

import (
	"time"

	"roadassist/internal/model"
)

// Marker ids used by the renderer.
const (
	MarkerStationary = "stationary"
	MarkerMoving     = "moving"
)

// Surface is the capability interface over the actual mapping widget.
// Implementations may be remote or not ready yet; any error makes the
// renderer skip the operation and retry lazily on the next call.
type Surface interface {
	// Init creates the map centered at center. Called at most once
	// successfully.
	Init(center model.GeoPoint) error
	PlaceMarker(id string, p model.GeoPoint, label string) error
	// MoveMarker relocates a marker, animating over the given duration
	// (linear interpolation) rather than snapping.
	MoveMarker(id string, p model.GeoPoint, animate time.Duration) error
	RotateMarker(id string, headingDeg float64) error
	DrawPolyline(id string, pts []model.GeoPoint) error
	// FitBounds frames the camera around both points. The renderer calls
	// it exactly once; later panning/zooming belongs to the user.
	FitBounds(a, b model.GeoPoint) error
}
