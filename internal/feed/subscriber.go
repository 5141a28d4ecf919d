// Package feed connects to an upstream collector over WebSocket and turns
// its JSON frames into normalized market samples. The collector owns all
// venue-specific polling; this side only subscribes, decodes, and forwards.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trapwatch/internal/model"
)

const (
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
	readTimeout       = 60 * time.Second
	pingInterval      = 25 * time.Second
	writeTimeout      = 5 * time.Second
)

// Subscriber maintains a WebSocket connection to the collector, resubscribes
// after reconnects, and forwards decoded samples. Sends are non-blocking: a
// full output channel drops the sample and bumps a counter.
type Subscriber struct {
	url         string
	instruments []model.InstrumentKey
	out         chan<- model.MarketSample

	dropped    atomic.Int64
	received   atomic.Int64
	reconnects atomic.Int64

	// OnReconnect, if set, is called before each reconnection attempt.
	OnReconnect func()
}

// NewSubscriber creates a subscriber that forwards samples for the given
// instruments to out.
func NewSubscriber(url string, instruments []model.InstrumentKey, out chan<- model.MarketSample) *Subscriber {
	return &Subscriber{url: url, instruments: instruments, out: out}
}

// Dropped returns the number of samples discarded on a full output channel.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Received returns the number of samples decoded from the feed.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Reconnects returns the number of reconnection attempts.
func (s *Subscriber) Reconnects() int64 { return s.reconnects.Load() }

// Run connects and consumes frames until ctx is cancelled, reconnecting with
// exponential backoff on any error.
func (s *Subscriber) Run(ctx context.Context) {
	delay := initialRetryDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.reconnects.Add(1)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		log.Printf("[feed] connection lost (%v), reconnecting in %v", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// subscribeMsg is the collector's subscription request frame.
type subscribeMsg struct {
	Op          string                `json:"op"`
	Instruments []model.InstrumentKey `json:"instruments"`
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[feed] connected to %s", s.url)

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Instruments: s.instruments}); err != nil {
		return err
	}

	// Close the connection on cancellation so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var sample model.MarketSample
		if err := json.Unmarshal(message, &sample); err != nil {
			log.Printf("[feed] bad frame: %v", err)
			continue
		}
		if sample.Mid <= 0 || sample.Ticker == "" {
			continue
		}
		s.received.Add(1)

		select {
		case s.out <- sample:
		default:
			if s.dropped.Add(1)%1000 == 1 {
				log.Printf("[feed] output full, dropping (total dropped: %d)", s.dropped.Load())
			}
		}
	}
}
