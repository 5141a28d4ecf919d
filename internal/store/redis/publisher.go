// Package redis publishes signal and trade events to outbound consumers
// (dashboards, alert routers) over Redis streams and pub/sub, with a circuit
// breaker and local buffering to ride out broker outages.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trapwatch/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a day of signals is far below this; the cap guards
	// against a misconfigured instrument flooding the stream.
	signalStreamMaxLen = 10000
	defaultLatestTTL   = 30 * time.Minute
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes signal and trade events to Redis. Each event goes out as
// one pipeline: XADD to the instrument's stream, SET of the latest-value key,
// PUBLISH for live subscribers.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Redis Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishSignal announces a newly admitted pending signal.
func (p *Publisher) PublishSignal(ctx context.Context, sig model.Signal) error {
	return p.publish(ctx, "signal", &sig)
}

// PublishTrade announces a resolved signal.
func (p *Publisher) PublishTrade(ctx context.Context, sig model.Signal) error {
	return p.publish(ctx, "trade", &sig)
}

func (p *Publisher) publish(ctx context.Context, kind string, sig *model.Signal) error {
	jsonData := string(sig.JSON())
	key := sig.Key()

	streamKey := kind + "s:" + key
	latestKey := kind + ":latest:" + key
	pubsubCh := "pub:" + kind + ":" + key

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis %s pipeline for %s: %w", kind, key, err)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
