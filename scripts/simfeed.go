// Package main publishes a synthetic position feed to Redis, standing in
// for a phone reporting a mechanic's GPS. Point the tracker's location
// source at the same channel to drive a live demo without hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"roadassist/internal/geo"
	"roadassist/internal/model"
)

func main() {
	redisURL := flag.String("redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "redis url")
	channel := flag.String("channel", "roadassist:pos", "publish channel")
	startLat := flag.Float64("start-lat", 12.9352, "start latitude")
	startLng := flag.Float64("start-lng", 77.6245, "start longitude")
	targetLat := flag.Float64("target-lat", 12.9716, "target latitude")
	targetLng := flag.Float64("target-lng", 77.5946, "target longitude")
	stepM := flag.Float64("step", 40, "meters per tick")
	interval := flag.Duration("interval", 2*time.Second, "tick interval")
	flag.Parse()

	opt, err := redis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim := geo.NewSimulated(
		model.GeoPoint{Lat: *startLat, Lng: *startLng},
		model.GeoPoint{Lat: *targetLat, Lng: *targetLng},
		*stepM, *interval,
	)

	log.Printf("publishing to %s every %s", *channel, *interval)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("stopped")
			return
		case <-ticker.C:
		}
		pos := sim.Advance()
		payload := map[string]any{
			"lat": pos.Point.Lat,
			"lng": pos.Point.Lng,
			"ts":  pos.TS.UTC().Format(time.RFC3339),
		}
		if pos.HeadingDeg != nil {
			payload["heading"] = *pos.HeadingDeg
			payload["speed"] = pos.SpeedMS
		}
		data, _ := json.Marshal(payload)
		if err := rdb.Publish(ctx, *channel, data).Err(); err != nil {
			log.Printf("publish: %v", err)
			continue
		}
		// One-shot readers pick the latest position up from this key.
		if err := rdb.Set(ctx, *channel+":last", data, time.Minute).Err(); err != nil {
			log.Printf("set last: %v", err)
		}
		log.Printf("%.5f,%.5f", pos.Point.Lat, pos.Point.Lng)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
