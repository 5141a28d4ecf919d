package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"trapwatch/internal/model"
)

func TestRouter_FansOutPerInstrument(t *testing.T) {
	var mu sync.Mutex
	var signals []*model.Signal
	cb := Callbacks{
		OnSignal: func(s *model.Signal) {
			mu.Lock()
			signals = append(signals, s)
			mu.Unlock()
		},
	}

	r := NewRouter(engineCfg(), cb)
	ch := make(chan model.MarketSample, 64)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), ch)
		close(done)
	}()

	// Two instruments, same breakout/reclaim sequence: each unit must see
	// its own series and emit its own signal.
	for _, ticker := range []string{"ETH", "BTC"} {
		for _, s := range rangeSeries() {
			s.Ticker = ticker
			ch <- s
		}
		s := sample(40, 102.2)
		s.Ticker = ticker
		ch <- s
		s = sample(42, 101.5)
		s.Ticker = ticker
		ch <- s
	}
	close(ch)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not drain within 5s")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(signals) != 2 {
		t.Fatalf("signals: got %d, want one per instrument", len(signals))
	}
	seen := map[string]bool{}
	for _, s := range signals {
		seen[s.Ticker] = true
		if s.Side != model.SideShort || s.EntryPrice != 101.5 {
			t.Errorf("signal %s: got side=%s entry=%v", s.Ticker, s.Side, s.EntryPrice)
		}
	}
	if !seen["ETH"] || !seen["BTC"] {
		t.Errorf("expected signals for both ETH and BTC, got %v", seen)
	}

	stats := r.Stats()
	if len(stats) != 2 {
		t.Fatalf("stats: got %d units, want 2", len(stats))
	}
	for key, st := range stats {
		if st.Samples != 22 {
			t.Errorf("%s: accepted %d samples, want 22", key, st.Samples)
		}
		if st.Signals != 1 {
			t.Errorf("%s: emitted %d signals, want 1", key, st.Signals)
		}
	}
}

func TestRouter_FinishClosesPendingOnDrain(t *testing.T) {
	var mu sync.Mutex
	var trades []*model.Signal
	cb := Callbacks{
		OnTrade: func(s *model.Signal) {
			mu.Lock()
			trades = append(trades, s)
			mu.Unlock()
		},
	}

	r := NewRouter(engineCfg(), cb)
	ch := make(chan model.MarketSample, 64)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), ch)
		close(done)
	}()

	for _, s := range rangeSeries() {
		ch <- s
	}
	ch <- sample(40, 102.2)
	ch <- sample(42, 101.5) // pending signal, never resolved by price
	close(ch)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(trades) != 1 || trades[0].Status != model.StatusExpired {
		t.Fatalf("expected pending signal force-expired on drain, got %+v", trades)
	}
}
