package simulator

import (
	"strconv"
	"strings"
	"sync"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

const (
	defaultBasePrice = 100.0
	// maxStep bounds one random-walk move as a fraction of the last price.
	maxStep = 0.002
)

// TickerGenerator random-walks a price per symbol around its opening price.
type TickerGenerator struct {
	rand  Rand
	clock Clock

	mu   sync.Mutex
	open map[string]float64
	last map[string]float64
}

func NewTickerGenerator(basePrices map[string]float64, rnd Rand, clock Clock) *TickerGenerator {
	g := &TickerGenerator{
		rand:  rnd,
		clock: clock,
		open:  make(map[string]float64, len(basePrices)),
		last:  make(map[string]float64, len(basePrices)),
	}
	for sym, p := range basePrices {
		sym = models.CanonicalSymbol(sym)
		g.open[sym] = p
		g.last[sym] = p
	}
	return g
}

// Next moves symbol one step and returns its ticker payload.
func (g *TickerGenerator) Next(symbol string) TickerPayload {
	sym := models.CanonicalSymbol(symbol)

	g.mu.Lock()
	open, ok := g.open[sym]
	if !ok {
		open = defaultBasePrice
		g.open[sym] = open
		g.last[sym] = open
	}
	// Float64 of 0.5 leaves the price unchanged.
	step := (g.rand.Float64()*2 - 1) * maxStep
	price := g.last[sym] * (1 + step)
	if price <= 0 {
		price = g.last[sym]
	}
	g.last[sym] = price
	g.mu.Unlock()

	change := price - open
	return TickerPayload{
		EventType:     "24hrTicker",
		EventTime:     g.clock.Now().UnixMilli(),
		Symbol:        sym,
		PriceChange:   format(change),
		PercentChange: format(change / open * 100),
		LastPrice:     format(price),
		OpenPrice:     format(open),
	}
}

// Envelope wraps Next in the combined-stream frame for stream.
func (g *TickerGenerator) Envelope(stream string) Envelope {
	sym, _, _ := strings.Cut(stream, "@")
	return Envelope{Stream: stream, Data: g.Next(sym)}
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}
