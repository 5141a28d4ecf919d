// cmd/signald is the live signal daemon: it subscribes to the collector's
// normalized sample feed, runs the per-instrument detection pipeline, and
// publishes signal/trade events to Redis while persisting samples and
// signals to SQLite.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trapwatch/config"
	"trapwatch/internal/feed"
	"trapwatch/internal/logger"
	"trapwatch/internal/metrics"
	"trapwatch/internal/model"
	sig "trapwatch/internal/signal"
	redisstore "trapwatch/internal/store/redis"
	sqlitestore "trapwatch/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("signald", slog.LevelInfo)
	log.Println("[signald] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[signald] config: %v", err)
	}
	instruments := cfg.ParseInstruments()
	if len(instruments) == 0 {
		log.Fatal("[signald] no instruments configured")
	}
	log.Printf("[signald] watching %d instruments", len(instruments))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite writer (off hot path) ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[signald] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration, _ int) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	log.Println("[signald] sqlite writer ready")

	// ---- Redis event publisher with circuit breaker ----
	var publisher model.EventPublisher
	rawPub, err := redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[signald] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[signald] redis circuit breaker: %s -> %s", from, to)
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		buffered := redisstore.NewBufferedPublisher(ctx, rawPub, cb, 0)
		buffered.OnBuffer = func() { prom.RedisBufferedEvents.Inc() }
		publisher = buffered
		log.Println("[signald] redis publisher ready")
	}

	if rawPub != nil {
		health.StartLivenessChecker(ctx, rawPub.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Persistence channels (off hot path, non-blocking sends) ----
	sampleStoreCh := make(chan model.MarketSample, 5000)
	signalStoreCh := make(chan model.Signal, 1000)
	go sqlWriter.RunSamples(ctx, sampleStoreCh)
	go sqlWriter.RunSignals(ctx, signalStoreCh)

	storeSignal := func(s *model.Signal) {
		select {
		case signalStoreCh <- *s:
		default:
			prom.DroppedSamples.Inc()
		}
	}

	// ---- Router with pipeline callbacks ----
	router := sig.NewRouter(cfg.Strategy, sig.Callbacks{
		OnSignal: func(s *model.Signal) {
			prom.CandidatesTotal.Inc()
			prom.SignalsTotal.WithLabelValues(string(s.Side)).Inc()
			prom.PendingSignals.Inc()
			log.Printf("[signald] SIGNAL %s %s entry=%.4f tp=%.4f sl=%.4f conf=%.2f (%s)",
				s.Key(), s.Side, s.EntryPrice, s.TPPrice, s.SLPrice, s.Confidence, s.Rationale)
			storeSignal(s)
			if publisher != nil {
				start := time.Now()
				if err := publisher.PublishSignal(ctx, *s); err != nil {
					log.Printf("[signald] publish signal: %v", err)
				}
				prom.RedisPublishDur.Observe(time.Since(start).Seconds())
			}
		},
		OnTrade: func(s *model.Signal) {
			prom.TradesTotal.WithLabelValues(string(s.Status)).Inc()
			prom.PendingSignals.Dec()
			log.Printf("[signald] TRADE %s %s %s exit=%.4f pnl=%.1fbps",
				s.Key(), s.Side, s.Status, s.ExitPrice, s.PnlBps)
			storeSignal(s)
			if publisher != nil {
				start := time.Now()
				if err := publisher.PublishTrade(ctx, *s); err != nil {
					log.Printf("[signald] publish trade: %v", err)
				}
				prom.RedisPublishDur.Observe(time.Since(start).Seconds())
			}
		},
		OnReject: func(_ *sig.Candidate, filter, reason string) {
			prom.CandidatesTotal.Inc()
			prom.RejectionsTotal.WithLabelValues(filter).Inc()
			log.Printf("[signald] candidate rejected by %s: %s", filter, reason)
		},
		OnDefect: func(_ *model.MarketSample) {
			prom.DefectsTotal.Inc()
		},
	})

	// ---- Feed -> router + persistence tee ----
	feedCh := make(chan model.MarketSample, 10000)
	routerCh := make(chan model.MarketSample, 10000)

	sub := feed.NewSubscriber(cfg.FeedURL, instruments, feedCh)
	sub.OnReconnect = prom.FeedReconnects.Inc
	go sub.Run(ctx)
	health.SetFeedConnected(true)

	go func() {
		defer close(routerCh)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-feedCh:
				if !ok {
					return
				}
				prom.SamplesTotal.Inc()
				health.SetLastSampleTime(s.TS)
				select {
				case routerCh <- s:
				default:
					prom.DroppedSamples.Inc()
				}
				select {
				case sampleStoreCh <- s:
				default:
					prom.DroppedSamples.Inc()
				}
			}
		}
	}()

	routerDone := make(chan struct{})
	go func() {
		router.Run(ctx, routerCh)
		close(routerDone)
	}()
	log.Println("[signald] pipeline ready")

	<-sigCh
	log.Println("[signald] shutting down...")
	cancel()

	select {
	case <-routerDone:
	case <-time.After(10 * time.Second):
		log.Println("[signald] router drain timeout")
	}

	for key, st := range router.Stats() {
		log.Printf("[signald] %s: samples=%d defects=%d candidates=%d signals=%d trades=%d",
			key, st.Samples, st.Defects, st.Candidates, st.Signals, st.Trades)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	metricsSrv.Stop(shutdownCtx)
	shutdownCancel()
	if publisher != nil {
		publisher.Close()
	}
	log.Println("[signald] stopped")
}
