// Package feed pushes the mechanic's own position to the backend while a
// job is active. It prefers a persistent WebSocket and falls back to the
// REST endpoint whenever the socket is down; either way a lost report is
// dropped, never retried, because the next position supersedes it.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roadassist/internal/apiclient"
	"roadassist/internal/metrics"
	"roadassist/internal/model"
)

// reportMsg is the wire form shared by both transports.
type reportMsg struct {
	RequestID string  `json:"request_id"`
	Phone     string  `json:"phone"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// Reporter sends position reports for one request. Safe for use from the
// position-watch goroutine.
type Reporter struct {
	api       *apiclient.Client
	requestID string
	phone     string

	wsURL       string
	minInterval time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	nextDial time.Time
	lastSent time.Time
	closed   bool
}

// New builds a reporter. wsURL may be empty to use REST only.
func New(api *apiclient.Client, wsURL, requestID, phone string) *Reporter {
	return &Reporter{
		api:         api,
		wsURL:       wsURL,
		requestID:   requestID,
		phone:       phone,
		minInterval: 2 * time.Second,
	}
}

// Report sends one position, throttled to the minimum interval. Failures
// are counted and logged, not returned; the caller's position stream must
// not stall on a slow backend.
func (r *Reporter) Report(ctx context.Context, p model.GeoPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	now := time.Now()
	if now.Sub(r.lastSent) < r.minInterval {
		return
	}
	msg := reportMsg{
		RequestID: r.requestID,
		Phone:     r.phone,
		Lat:       p.Lat,
		Lng:       p.Lng,
		TS:        now.UTC().Format(time.RFC3339),
	}
	if r.wsURL != "" && r.sendWS(msg, now) {
		r.lastSent = now
		return
	}
	if err := r.api.UpdateLocation(ctx, r.requestID, r.phone, p); err != nil {
		metrics.LocationReports.WithLabelValues("http", "error").Inc()
		log.Printf("location report failed: %v", err)
		return
	}
	metrics.LocationReports.WithLabelValues("http", "ok").Inc()
	r.lastSent = now
}

// sendWS writes over the socket, dialing if needed. A failed dial backs
// off so the HTTP fallback carries reports in the meantime.
func (r *Reporter) sendWS(msg reportMsg, now time.Time) bool {
	if r.conn == nil {
		if now.Before(r.nextDial) {
			return false
		}
		conn, _, err := websocket.DefaultDialer.Dial(r.wsURL, nil)
		if err != nil {
			r.nextDial = now.Add(10 * time.Second)
			metrics.LocationReports.WithLabelValues("ws", "dial_error").Inc()
			log.Printf("location socket dial failed, using http: %v", err)
			return false
		}
		r.conn = conn
	}
	r.conn.SetWriteDeadline(now.Add(3 * time.Second))
	if err := r.conn.WriteJSON(msg); err != nil {
		metrics.LocationReports.WithLabelValues("ws", "error").Inc()
		log.Printf("location socket write failed: %v", err)
		_ = r.conn.Close()
		r.conn = nil
		r.nextDial = now.Add(5 * time.Second)
		return false
	}
	metrics.LocationReports.WithLabelValues("ws", "ok").Inc()
	return true
}

// Close shuts the socket down. Idempotent.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.conn != nil {
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}
