package maprender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"roadassist/internal/model"
)

// Route is a computed driving route between two points.
type Route struct {
	Points         []model.GeoPoint
	DistanceMeters float64
	Duration       time.Duration
}

// DistanceText renders the remaining distance the way the widget shows it.
func (r Route) DistanceText() string {
	if r.DistanceMeters >= 1000 {
		return fmt.Sprintf("%.1f km", r.DistanceMeters/1000)
	}
	return fmt.Sprintf("%.0f m", r.DistanceMeters)
}

// DurationText renders the ETA.
func (r Route) DurationText() string {
	mins := int(r.Duration.Minutes())
	if mins < 1 {
		return "under a minute"
	}
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	return fmt.Sprintf("%dh %dm", mins/60, mins%60)
}

// ErrNoRoute means the provider could not route between the points.
var ErrNoRoute = errors.New("maprender: no route found")

// DirectionsProvider computes driving routes. Consumed as an opaque
// capability; only this interface is part of the contract.
type DirectionsProvider interface {
	Route(ctx context.Context, from, to model.GeoPoint) (Route, error)
}

// OSRMProvider talks to an OSRM-compatible routing endpoint. Requests are
// bounded by a rate limiter so a noisy position stream cannot exhaust the
// provider quota.
type OSRMProvider struct {
	BaseURL string
	HTTP    *http.Client
	limiter *rate.Limiter
}

func NewOSRMProvider(baseURL string, rps float64) *OSRMProvider {
	if rps <= 0 {
		rps = 1
	}
	return &OSRMProvider{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (p *OSRMProvider) Route(ctx context.Context, from, to model.GeoPoint) (Route, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Route{}, err
	}
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		p.BaseURL, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("maprender: directions http %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Route{}, err
	}
	var body osrmResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return Route{}, err
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Route{}, ErrNoRoute
	}
	r := body.Routes[0]
	out := Route{
		DistanceMeters: r.Distance,
		Duration:       time.Duration(r.Duration * float64(time.Second)),
	}
	for _, c := range r.Geometry.Coordinates {
		if len(c) == 2 {
			out.Points = append(out.Points, model.GeoPoint{Lat: c[1], Lng: c[0]})
		}
	}
	return out, nil
}
