package simulator_test

import (
	"testing"
	"time"

	"github.com/aryanseth9795/stocklabs-backend/cmd/simulator/internal/simulator"
	"github.com/aryanseth9795/stocklabs-backend/cmd/simulator/internal/testutils"
)

func TestGenerator_Logic(t *testing.T) {
	// 0.5 maps to a zero step, so the price stays at its base
	mockRand := &testutils.MockRand{ValFloat: 0.5}
	mockClock := &testutils.MockClock{CurrentTime: time.UnixMilli(1700000000000)}

	gen := simulator.NewTickerGenerator(map[string]float64{"btcusdt": 50000}, mockRand, mockClock)
	p := gen.Next("BTCUSDT")

	if p.EventType != "24hrTicker" {
		t.Errorf("Expected 24hrTicker, got %s", p.EventType)
	}
	if p.Symbol != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT, got %s", p.Symbol)
	}
	if p.LastPrice != "50000.00000000" {
		t.Errorf("Expected unchanged price, got %s", p.LastPrice)
	}
	if p.PriceChange != "0.00000000" || p.PercentChange != "0.00000000" {
		t.Errorf("Expected zero change, got %s / %s", p.PriceChange, p.PercentChange)
	}
	if p.EventTime != 1700000000000 {
		t.Errorf("Expected clock time, got %d", p.EventTime)
	}
}

func TestGenerator_WalksFromLastPrice(t *testing.T) {
	mockRand := &testutils.MockRand{ValFloat: 1.0}
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	gen := simulator.NewTickerGenerator(map[string]float64{"ETHUSDT": 100}, mockRand, mockClock)

	first := gen.Next("ethusdt")
	if first.LastPrice != "100.20000000" {
		t.Errorf("Expected 100.2 after one max step, got %s", first.LastPrice)
	}
	if first.PriceChange != "0.20000000" || first.PercentChange != "0.20000000" {
		t.Errorf("Unexpected change %s / %s", first.PriceChange, first.PercentChange)
	}

	second := gen.Next("ethusdt")
	if second.LastPrice != "100.40040000" {
		t.Errorf("Expected compounding from last price, got %s", second.LastPrice)
	}
	if second.OpenPrice != "100.00000000" {
		t.Errorf("Open price must not move, got %s", second.OpenPrice)
	}
}

func TestGenerator_UnknownSymbolGetsDefaultBase(t *testing.T) {
	gen := simulator.NewTickerGenerator(nil, &testutils.MockRand{ValFloat: 0.5}, &testutils.MockClock{})

	env := gen.Envelope("pepeusdt@ticker")
	if env.Stream != "pepeusdt@ticker" {
		t.Errorf("Expected stream echoed, got %s", env.Stream)
	}
	if env.Data.Symbol != "PEPEUSDT" {
		t.Errorf("Expected PEPEUSDT, got %s", env.Data.Symbol)
	}
	if env.Data.LastPrice != "100.00000000" {
		t.Errorf("Expected default base price, got %s", env.Data.LastPrice)
	}
}
