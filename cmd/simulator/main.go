package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/simulator/internal/simulator"
	"github.com/aryanseth9795/stocklabs-backend/pkg/config"
)

// basePrices seeds the walk for the majors; every other symbol opens at 100.
var basePrices = map[string]float64{
	"BTCUSDT": 60000, "ETHUSDT": 3000, "BNBUSDT": 550, "SOLUSDT": 150,
	"XRPUSDT": 0.5, "DOGEUSDT": 0.12, "ADAUSDT": 0.45, "PEPEUSDT": 0.00001,
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

	gen := simulator.NewTickerGenerator(basePrices, simulator.NewRealRand(time.Now().UnixNano()), simulator.RealClock{})

	mux := http.NewServeMux()
	mux.Handle("/stream", simulator.NewServer(gen, cfg.Simulator.Interval, logger))

	srv := &http.Server{Addr: cfg.Simulator.Port, Handler: mux}
	go func() {
		logger.Info("Simulator started", zap.String("addr", cfg.Simulator.Port), zap.Duration("interval", cfg.Simulator.Interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Listen failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}
