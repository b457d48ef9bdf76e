package ledger

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata" // scheduler timezone must resolve on minimal images

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/metrics"
)

// PriceSource answers the live converted price of a symbol.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, bool)
}

type AutoCutResult struct {
	Settled int
	Skipped int
	Failed  int
}

// AutoCutter force-closes every open short at the live price.
type AutoCutter struct {
	store   Store
	prices  PriceSource
	logger  *zap.Logger
	timeout time.Duration
}

func NewAutoCutter(store Store, prices PriceSource, logger *zap.Logger) *AutoCutter {
	return &AutoCutter{store: store, prices: prices, logger: logger, timeout: 5 * time.Minute}
}

// RunOnce settles each open short independently; one failure never aborts
// the batch. Positions without a live price are skipped.
func (a *AutoCutter) RunOnce(ctx context.Context) (AutoCutResult, error) {
	var res AutoCutResult
	a.logger.Info("Auto-cut job starting")

	positions, err := a.store.OpenShortPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("list open shorts: %w", err)
	}
	if len(positions) == 0 {
		a.logger.Info("No open short positions to cut")
		return res, nil
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		price, ok := a.price(ctx, pos)
		if !ok {
			res.Skipped++
			metrics.AutoCuts.WithLabelValues("skipped").Inc()
			a.logger.Warn("No price for short position, skipping",
				zap.String("position", pos.ID), zap.String("symbol", pos.Symbol), zap.String("asset_type", pos.AssetType))
			continue
		}

		st, err := a.store.SettleShort(ctx, pos, price, StatusAutoCut)
		if err != nil {
			res.Failed++
			metrics.AutoCuts.WithLabelValues("failed").Inc()
			a.logger.Error("Auto-cut failed", zap.String("position", pos.ID), zap.Error(err))
			continue
		}
		res.Settled++
		metrics.AutoCuts.WithLabelValues("settled").Inc()
		a.logger.Info("Short position auto-cut",
			zap.String("position", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.String("exit_price", st.ExitPrice.StringFixed(2)),
			zap.String("pnl", st.ProfitLoss.StringFixed(2)))
	}

	a.logger.Info("Auto-cut job completed",
		zap.Int("settled", res.Settled), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}

// Only crypto shorts have a live price on this relay.
func (a *AutoCutter) price(ctx context.Context, pos ShortPosition) (float64, bool) {
	if pos.AssetType != "" && pos.AssetType != AssetCrypto {
		return 0, false
	}
	return a.prices.CurrentPrice(ctx, pos.Symbol)
}

// Schedule registers RunOnce on a cron expression evaluated in timezone. The caller
// starts and stops the returned scheduler.
func (a *AutoCutter) Schedule(ctx context.Context, expr, timezone string) (*cron.Cron, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(expr, func() {
		runCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if _, err := a.RunOnce(runCtx); err != nil {
			a.logger.Error("Auto-cut job failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return c, nil
}
