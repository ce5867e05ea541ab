package geo

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"roadassist/internal/model"
)

// RedisFeed consumes positions published on a Redis channel by an external
// GPS daemon (see scripts/simfeed.go for a demo publisher). Payloads are
// JSON: {"lat":..,"lng":..,"heading":..,"speed":..,"ts":".."}.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
}

type feedPayload struct {
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   float64  `json:"speed,omitempty"`
	TS      string   `json:"ts,omitempty"`
}

// NewRedisFeed connects to url (redis://...) and reads positions from
// channel.
func NewRedisFeed(url, channel string) (*RedisFeed, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisFeed{rdb: redis.NewClient(opt), channel: channel}, nil
}

func (f *RedisFeed) GetOnce(ctx context.Context) (Position, error) {
	// The latest position is mirrored into a plain key by the publisher.
	val, err := f.rdb.Get(ctx, f.channel+":last").Result()
	if err == redis.Nil {
		return Position{}, ErrUnavailable
	}
	if err != nil {
		return Position{}, err
	}
	var p feedPayload
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return Position{}, ErrUnavailable
	}
	return p.position(), nil
}

func (f *RedisFeed) Watch(ctx context.Context, onUpdate func(Position), onError func(error)) (WatchHandle, error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := f.rdb.Subscribe(ctx, f.channel)
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		return nil, err
	}
	go func() {
		defer func() { _ = ps.Close() }()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					onError(ErrUnavailable)
					return
				}
				var p feedPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					onError(err)
					continue
				}
				onUpdate(p.position())
			}
		}
	}()
	return &watchHandle{cancel: cancel}, nil
}

func (p feedPayload) position() Position {
	pos := Position{
		Point:      model.GeoPoint{Lat: p.Lat, Lng: p.Lng},
		HeadingDeg: p.Heading,
		SpeedMS:    p.Speed,
		TS:         time.Now(),
	}
	if p.TS != "" {
		if ts, err := time.Parse(time.RFC3339, p.TS); err == nil {
			pos.TS = ts
		}
	}
	return pos
}
