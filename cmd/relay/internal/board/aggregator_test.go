package board

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

type fakeReader struct {
	ticks map[string]models.Tick
	err   error
}

func (f *fakeReader) Get(_ context.Context, symbol string) (models.Tick, bool, error) {
	if f.err != nil {
		return models.Tick{}, false, f.err
	}
	t, ok := f.ticks[symbol]
	return t, ok, nil
}

func symbols(ticks []models.Tick) []string {
	out := make([]string, len(ticks))
	for i, t := range ticks {
		out[i] = t.Symbol
	}
	return out
}

func TestUpdateKeepsRegistryOrder(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}), nil)

	assert.True(t, a.Update(models.Tick{Symbol: "solusdt", PriceConverted: 1}))
	assert.True(t, a.Update(models.Tick{Symbol: "BTCUSDT", PriceConverted: 2}))
	assert.False(t, a.Update(models.Tick{Symbol: "PEPEUSDT", PriceConverted: 3}))

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, symbols(a.Snapshot()))
}

func TestUpdateFillsGapsInPlace(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}), nil)

	for _, sym := range []string{"SOLUSDT", "BTCUSDT"} {
		a.Update(models.Tick{Symbol: sym})
	}
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, symbols(a.Snapshot()))

	a.Update(models.Tick{Symbol: "ethusdt", PriceConverted: 7})
	snap := a.Snapshot()
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, symbols(snap))
	assert.Equal(t, 7.0, snap[1].PriceConverted)
}

func TestUpdateIsLastWriteWins(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT"}), nil)
	a.Update(models.Tick{Symbol: "BTCUSDT", Price: 1})
	a.Update(models.Tick{Symbol: "BTCUSDT", Price: 2})

	snap := a.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, 2.0, snap[0].Price)
}

func TestSnapshotIsACopy(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT"}), nil)
	a.Update(models.Tick{Symbol: "BTCUSDT", Price: 1})

	snap := a.Snapshot()
	snap[0].Price = 99

	assert.Equal(t, 1.0, a.Snapshot()[0].Price)
}

func TestFilter(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}), nil)
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		a.Update(models.Tick{Symbol: s})
	}

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, symbols(a.Filter([]string{"solusdt", "btcusdt", "DOGEUSDT"})))
	assert.Empty(t, a.Filter(nil))
}

func TestCurrentPrice(t *testing.T) {
	reader := &fakeReader{ticks: map[string]models.Tick{"PEPEUSDT": {Symbol: "PEPEUSDT", PriceConverted: 0.01}}}
	a := NewAggregator(registry.New([]string{"BTCUSDT", "ETHUSDT"}), reader)
	a.Update(models.Tick{Symbol: "BTCUSDT", PriceConverted: 4300000})

	price, ok := a.CurrentPrice(context.Background(), "btcusdt")
	assert.True(t, ok)
	assert.Equal(t, 4300000.0, price)

	price, ok = a.CurrentPrice(context.Background(), "pepeusdt")
	assert.True(t, ok)
	assert.Equal(t, 0.01, price)

	_, ok = a.CurrentPrice(context.Background(), "ETHUSDT")
	assert.False(t, ok, "board symbol without a tick and no store entry")

	reader.err = errors.New("redis down")
	_, ok = a.CurrentPrice(context.Background(), "PEPEUSDT")
	assert.False(t, ok)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	a := NewAggregator(registry.New([]string{"BTCUSDT", "ETHUSDT"}), nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			a.Update(models.Tick{Symbol: "BTCUSDT", Price: float64(i)})
		}(i)
		go func() {
			defer wg.Done()
			_ = a.Filter([]string{"BTCUSDT"})
			_ = a.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, a.Snapshot(), 1)
}
