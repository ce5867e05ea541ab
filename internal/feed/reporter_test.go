package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roadassist/internal/apiclient"
	"roadassist/internal/model"
)

func TestReportOverWebSocket(t *testing.T) {
	var (
		mu   sync.Mutex
		msgs []reportMsg
	)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		for {
			var m reportMsg
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	api := apiclient.New(srv.URL, time.Second)
	r := New(api, wsURL, "req-5", "8800112233")
	defer r.Close()
	r.minInterval = 0

	r.Report(context.Background(), model.GeoPoint{Lat: 12.97, Lng: 77.59})
	r.Report(context.Background(), model.GeoPoint{Lat: 12.98, Lng: 77.60})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(msgs)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d reports over the socket, want 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if msgs[0].RequestID != "req-5" || msgs[0].Phone != "8800112233" || msgs[0].Lat != 12.97 {
		t.Fatalf("first report = %+v", msgs[0])
	}
}

func TestReportFallsBackToHTTP(t *testing.T) {
	var (
		mu    sync.Mutex
		posts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mechanic/update-location" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["request_id"] != "req-5" {
			t.Errorf("payload = %v", body)
		}
		mu.Lock()
		posts++
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	api := apiclient.New(srv.URL, time.Second)
	// Unreachable socket endpoint: reports must flow over REST instead.
	r := New(api, "ws://127.0.0.1:1/ws", "req-5", "8800112233")
	defer r.Close()
	r.minInterval = 0

	r.Report(context.Background(), model.GeoPoint{Lat: 1, Lng: 2})
	mu.Lock()
	defer mu.Unlock()
	if posts != 1 {
		t.Fatalf("http reports = %d, want 1", posts)
	}
}

func TestReportThrottled(t *testing.T) {
	var (
		mu    sync.Mutex
		posts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		posts++
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	api := apiclient.New(srv.URL, time.Second)
	r := New(api, "", "req-5", "8800112233")
	defer r.Close()
	r.minInterval = time.Hour

	for i := 0; i < 5; i++ {
		r.Report(context.Background(), model.GeoPoint{Lat: float64(i)})
	}
	mu.Lock()
	defer mu.Unlock()
	if posts != 1 {
		t.Fatalf("reports = %d, want 1 (rest throttled)", posts)
	}
}

func TestCloseIdempotent(t *testing.T) {
	api := apiclient.New("http://127.0.0.1:1", time.Second)
	r := New(api, "", "req-5", "8800112233")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	// Reports after close are dropped silently.
	r.Report(context.Background(), model.GeoPoint{})
}
