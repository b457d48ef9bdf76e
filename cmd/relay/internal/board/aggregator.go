// Package board keeps the last tick of every registry symbol and the ordered
// leaderboard snapshot derived from them.
package board

import (
	"context"
	"sync"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

// TickReader is the Tick Store lookup used for off-board prices.
type TickReader interface {
	Get(ctx context.Context, symbol string) (models.Tick, bool, error)
}

type Aggregator struct {
	registry *registry.Registry
	store    TickReader

	mu       sync.RWMutex
	// slots holds the last tick per registry position; seen marks filled ones.
	slots    []models.Tick
	seen     []bool
	snapshot []models.Tick
}

func NewAggregator(reg *registry.Registry, store TickReader) *Aggregator {
	return &Aggregator{
		registry: reg,
		store:    store,
		slots:    make([]models.Tick, reg.Len()),
		seen:     make([]bool, reg.Len()),
	}
}

// Update records tick and rebuilds the snapshot. It reports false, leaving
// the board untouched, for symbols outside the registry.
func (a *Aggregator) Update(tick models.Tick) bool {
	sym := models.CanonicalSymbol(tick.Symbol)
	i := a.registry.Index(sym)
	if i < 0 {
		return false
	}
	tick.Symbol = sym

	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[i] = tick
	a.seen[i] = true

	snap := make([]models.Tick, 0, len(a.slots))
	for j, t := range a.slots {
		if a.seen[j] {
			snap = append(snap, t)
		}
	}
	a.snapshot = snap
	return true
}

// Snapshot returns a copy of the board in registry order.
func (a *Aggregator) Snapshot() []models.Tick {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Tick, len(a.snapshot))
	copy(out, a.snapshot)
	return out
}

// Filter returns the snapshot entries whose symbol is in symbols.
func (a *Aggregator) Filter(symbols []string) []models.Tick {
	want := models.SymbolSet(symbols)
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Tick, 0, len(want))
	for _, t := range a.snapshot {
		if _, ok := want[t.Symbol]; ok {
			out = append(out, t)
		}
	}
	return out
}

// CurrentPrice returns the converted price of symbol, from the board when it
// is tracked there and from the Tick Store otherwise.
func (a *Aggregator) CurrentPrice(ctx context.Context, symbol string) (float64, bool) {
	sym := models.CanonicalSymbol(symbol)
	if i := a.registry.Index(sym); i >= 0 {
		a.mu.RLock()
		t, ok := a.slots[i], a.seen[i]
		a.mu.RUnlock()
		if ok {
			return t.PriceConverted, true
		}
	}
	if a.store == nil {
		return 0, false
	}
	t, ok, err := a.store.Get(ctx, sym)
	if err != nil || !ok {
		return 0, false
	}
	return t.PriceConverted, true
}
