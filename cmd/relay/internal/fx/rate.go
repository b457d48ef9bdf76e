// Package fx keeps the USD to display-currency conversion rate fresh.
package fx

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

type Options struct {
	URL      string
	Currency string
	Fallback float64
	Refresh  time.Duration
}

// Provider serves the last known rate without blocking. Until the first
// successful fetch, and whenever a fetch fails, it serves Fallback.
type Provider struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
	bits   atomic.Uint64
}

func NewProvider(opts Options, client *http.Client, logger *zap.Logger) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	p := &Provider{opts: opts, client: client, logger: logger}
	p.bits.Store(math.Float64bits(opts.Fallback))
	return p
}

// Rate is safe to call from the tick hot path.
func (p *Provider) Rate() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Refresh fetches once and stores the result, falling back on any failure.
func (p *Provider) Refresh(ctx context.Context) float64 {
	rate, err := p.fetch(ctx)
	if err != nil {
		p.logger.Warn("Exchange rate fetch failed, using fallback",
			zap.Float64("fallback", p.opts.Fallback), zap.Error(err))
		rate = p.opts.Fallback
	} else {
		p.logger.Info("Exchange rate refreshed",
			zap.String("currency", p.opts.Currency), zap.Float64("rate", rate))
	}
	p.bits.Store(math.Float64bits(rate))
	return rate
}

// Run refreshes immediately and then every Refresh until ctx is done.
func (p *Provider) Run(ctx context.Context) {
	p.Refresh(ctx)
	if p.opts.Refresh <= 0 {
		return
	}

	ticker := time.NewTicker(p.opts.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

func (p *Provider) fetch(ctx context.Context) (float64, error) {
	if p.opts.URL == "" {
		return 0, fmt.Errorf("no rate url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, fmt.Errorf("read rate body: %w", err)
	}

	field := gjson.GetBytes(body, "rates."+strings.ToUpper(p.opts.Currency))
	if !field.Exists() || field.Type != gjson.Number {
		return 0, fmt.Errorf("%s rate missing from response", p.opts.Currency)
	}
	rate := field.Float()
	if rate <= 0 {
		return 0, fmt.Errorf("non-positive %s rate %v", p.opts.Currency, rate)
	}
	return rate, nil
}
