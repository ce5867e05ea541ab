package geo

import (
	"context"
	"math"
	"testing"
	"time"

	"roadassist/internal/model"
)

func TestDistanceMeters(t *testing.T) {
	cases := []struct {
		name string
		a, b model.GeoPoint
		want float64
		tol  float64
	}{
		{"zero", model.GeoPoint{Lat: 12.97, Lng: 77.59}, model.GeoPoint{Lat: 12.97, Lng: 77.59}, 0, 0.01},
		{"small lng step at equator", model.GeoPoint{}, model.GeoPoint{Lng: 0.00004}, 4.45, 0.2},
		{"one degree lat", model.GeoPoint{}, model.GeoPoint{Lat: 1}, 111195, 200},
	}
	for _, c := range cases {
		got := DistanceMeters(c.a, c.b)
		if math.Abs(got-c.want) > c.tol {
			t.Errorf("%s: got %.2f want %.2f", c.name, got, c.want)
		}
	}
}

func TestBearingDegrees(t *testing.T) {
	cases := []struct {
		name string
		a, b model.GeoPoint
		want float64
	}{
		{"north", model.GeoPoint{}, model.GeoPoint{Lat: 1}, 0},
		{"east", model.GeoPoint{}, model.GeoPoint{Lng: 1}, 90},
		{"south", model.GeoPoint{Lat: 1}, model.GeoPoint{}, 180},
		{"west", model.GeoPoint{Lng: 1}, model.GeoPoint{}, 270},
	}
	for _, c := range cases {
		got := BearingDegrees(c.a, c.b)
		if math.Abs(got-c.want) > 0.5 {
			t.Errorf("%s: got %.2f want %.2f", c.name, got, c.want)
		}
	}
}

func TestShortestAngularDelta(t *testing.T) {
	cases := []struct{ from, to, want float64 }{
		{0, 10, 10},
		{10, 0, -10},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
	}
	for _, c := range cases {
		if got := ShortestAngularDelta(c.from, c.to); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("delta(%v,%v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStepToward(t *testing.T) {
	start := model.GeoPoint{Lat: 0, Lng: 0}
	target := model.GeoPoint{Lat: 0, Lng: 0.001} // ~111m east

	next, arrived := StepToward(start, target, 50)
	if arrived {
		t.Fatal("should not arrive in one 50m step over ~111m")
	}
	moved := DistanceMeters(start, next)
	if math.Abs(moved-50) > 1 {
		t.Fatalf("moved %.2fm, want ~50m", moved)
	}

	next, arrived = StepToward(next, target, 200)
	if !arrived || next != target {
		t.Fatalf("should snap to target, got %+v arrived=%v", next, arrived)
	}
}

func TestSimulatedWalksToTarget(t *testing.T) {
	start := model.GeoPoint{Lat: 12.9716, Lng: 77.5946}
	target := model.GeoPoint{Lat: 12.9726, Lng: 77.5946} // ~111m north
	sim := NewSimulated(start, target, 40, time.Hour)

	var last Position
	for i := 0; i < 5; i++ {
		last = sim.Advance()
	}
	if last.Point != target {
		t.Fatalf("expected to reach target after 5 steps, at %+v", last.Point)
	}
	if last.HeadingDeg != nil {
		t.Fatal("arrived position should carry no heading")
	}

	pos, err := sim.GetOnce(context.Background())
	if err != nil {
		t.Fatalf("GetOnce: %v", err)
	}
	if pos.Point != target {
		t.Fatalf("GetOnce after arrival: %+v", pos.Point)
	}
}

func TestSimulatedHeadingPointsAtTarget(t *testing.T) {
	sim := NewSimulated(model.GeoPoint{}, model.GeoPoint{Lng: 1}, 25, time.Second)
	pos, err := sim.GetOnce(context.Background())
	if err != nil {
		t.Fatalf("GetOnce: %v", err)
	}
	if pos.HeadingDeg == nil {
		t.Fatal("expected heading while en route")
	}
	if math.Abs(*pos.HeadingDeg-90) > 0.5 {
		t.Fatalf("heading %.2f, want ~90", *pos.HeadingDeg)
	}
	if pos.SpeedMS != 25 {
		t.Fatalf("speed %.2f, want 25", pos.SpeedMS)
	}
}
