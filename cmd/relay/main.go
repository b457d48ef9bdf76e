package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/auth"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/board"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/feed"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/fx"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/gateway"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/hub"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/ledger"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/metrics"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/pkg/config"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
	"github.com/aryanseth9795/stocklabs-backend/pkg/tickstore"
)

// remoteSubscriber asks the feed-owning relay to grow its subscription set.
type remoteSubscriber struct {
	store tickstore.Store
}

func (r remoteSubscriber) EnsureSubscribed(ctx context.Context, symbols []string) error {
	return r.store.RequestSubscription(ctx, symbols)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := tickstore.NewRedisStore(rdb, logger, cfg.Redis.TickTTL)
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	reg := registry.New(cfg.Board.Symbols)
	agg := board.NewAggregator(reg, store)

	rates := fx.NewProvider(fx.Options{
		URL:      cfg.FX.URL,
		Currency: cfg.FX.Currency,
		Fallback: cfg.FX.Fallback,
		Refresh:  cfg.FX.Refresh,
	}, nil, logger)
	goRun(func() { rates.Run(ctx) })

	var subscriber hub.Subscriber = remoteSubscriber{store: store}
	var kafkaSink *tickstore.KafkaSink
	if cfg.Upstream.Enabled {
		var sink tickstore.Sink = store
		if cfg.Upstream.Sink == "kafka" {
			tickstore.NewTopicCreator(logger, tickstore.NewRealKafkaDialer(10*time.Second), 3).Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
			kafkaSink = tickstore.NewKafkaSink(tickstore.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
			sink = kafkaSink
		}

		client := feed.NewClient(feed.Options{
			URL:          cfg.Upstream.URL,
			Channel:      cfg.Upstream.Channel,
			ReadTimeout:  cfg.Upstream.ReadTimeout,
			WriteTimeout: cfg.Upstream.WriteTimeout,
			Backoff:      feed.Backoff{Min: cfg.Upstream.MinBackoff, Max: cfg.Upstream.MaxBackoff, Jitter: 0.2},
		}, reg.Symbols(), feed.GorillaDialer(nil), sink, feed.NewNormalizer(rates), logger)
		subscriber = client

		requests, err := store.SubscriptionRequests(ctx)
		if err != nil {
			logger.Fatal("Failed to subscribe to feed requests", zap.Error(err))
		}
		goRun(func() { client.ListenRequests(ctx, requests) })
		goRun(func() {
			if err := client.Run(ctx); err != nil {
				logger.Error("Upstream feed stopped", zap.Error(err))
			}
		})
	} else {
		logger.Info("Upstream feed disabled, relying on another relay for provider data")
	}

	var holdings hub.Holdings = ledger.EmptyHoldings{}
	var cutter interface{ Stop() context.Context }
	if cfg.Ledger.DSN != "" {
		pg, err := ledger.NewPostgresStore(ctx, cfg.Ledger.DSN)
		if err != nil {
			logger.Fatal("Failed to connect to ledger database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate ledger schema", zap.Error(err))
		}
		holdings = pg

		job, err := ledger.NewAutoCutter(pg, agg, logger).Schedule(ctx, cfg.Ledger.AutoCutSchedule, cfg.Ledger.AutoCutTimezone)
		if err != nil {
			logger.Fatal("Failed to schedule auto-cut job", zap.Error(err))
		}
		job.Start()
		cutter = job
		logger.Info("Auto-cut job scheduled",
			zap.String("schedule", cfg.Ledger.AutoCutSchedule), zap.String("timezone", cfg.Ledger.AutoCutTimezone))
	} else {
		logger.Warn("Ledger DSN not set, watch-lists are empty and auto-cut is disabled")
	}

	wsHub := hub.NewHub(reg, agg, holdings, subscriber, store, hub.Options{
		BoardInterval: cfg.Hub.BoardInterval,
		WatchInterval: cfg.Hub.WatchInterval,
	}, logger)

	ticks, err := store.Subscribe(ctx, models.TickPattern)
	if err != nil {
		logger.Fatal("Failed to subscribe to tick channels", zap.Error(err))
	}
	goRun(func() { wsHub.Run(ctx, ticks) })

	goRun(func() {
		t := time.NewTicker(cfg.Hub.StatsInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s := wsHub.Stats()
				logger.Info("Connection stats", zap.Int("users", s.Users), zap.Int("guests", s.Guests))
			}
		}
	})

	verifier := auth.NewVerifier(auth.Options{
		Secret:     cfg.Auth.JWTSecret,
		QueryParam: cfg.Auth.QueryParam,
		CookieName: cfg.Auth.CookieName,
	})
	if !verifier.Enabled() {
		logger.Warn("AUTH_JWT_SECRET not set, every connection is a guest")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewHandler(ctx, wsHub, verifier, gateway.Options{
		WriteWait:      cfg.Gateway.WriteWait,
		PongWait:       cfg.Gateway.PongWait,
		PingPeriod:     cfg.Gateway.PingPeriod,
		SendBuffer:     cfg.Gateway.SendBuffer,
		MessagesPerSec: cfg.Gateway.MessagesPerSec,
		MessageBurst:   cfg.Gateway.MessageBurst,
	}, logger))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.Int("board", reg.Len()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received, stopping relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if cutter != nil {
		<-cutter.Stop().Done()
	}
	cancel()
	wg.Wait()

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("Error closing Kafka writer", zap.Error(err))
		}
	}
	store.Close()
	logger.Info("Shutdown Complete")
}
