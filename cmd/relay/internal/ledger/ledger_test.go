package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSettleArithmetic(t *testing.T) {
	pos := ShortPosition{EntryPrice: 100, Quantity: 3, TotalValue: 300}

	profit := Settle(pos, 90)
	assert.Equal(t, "30", profit.ProfitLoss.String())
	assert.Equal(t, "330", profit.ReturnAmount.String())

	loss := Settle(pos, 120.5)
	assert.Equal(t, "-61.5", loss.ProfitLoss.String())
	assert.Equal(t, "238.5", loss.ReturnAmount.String())

	// Decimal math keeps cents exact where float64 would drift.
	cents := Settle(ShortPosition{EntryPrice: 0.3, Quantity: 3, TotalValue: 0.9}, 0.1)
	assert.Equal(t, "0.6", cents.ProfitLoss.String())
	assert.Equal(t, "1.5", cents.ReturnAmount.String())
}

func TestSettlementDescribe(t *testing.T) {
	pos := ShortPosition{Name: "Bitcoin", EntryPrice: 100, Quantity: 2, TotalValue: 200}
	st := Settle(pos, 90)

	assert.Equal(t, "[Auto-Cut] 2 Bitcoin @ ₹90.00 | P&L: ₹20.00", st.Describe(pos, StatusAutoCut))
	assert.True(t, strings.HasPrefix(st.Describe(pos, StatusClosed), "[Short-Cover]"))
}

type settleCall struct {
	ID     string
	Price  float64
	Status Status
}

type fakeStore struct {
	mu        sync.Mutex
	positions []ShortPosition
	listErr   error
	failFor   map[string]error
	settled   []settleCall
}

func (f *fakeStore) HeldSymbols(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeStore) OpenShortPositions(context.Context) ([]ShortPosition, error) {
	return f.positions, f.listErr
}

func (f *fakeStore) SettleShort(_ context.Context, pos ShortPosition, price float64, status Status) (Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[pos.ID]; err != nil {
		return Settlement{}, err
	}
	f.settled = append(f.settled, settleCall{ID: pos.ID, Price: price, Status: status})
	return Settle(pos, price), nil
}

type fakePrices map[string]float64

func (p fakePrices) CurrentPrice(_ context.Context, symbol string) (float64, bool) {
	v, ok := p[strings.ToUpper(symbol)]
	return v, ok
}

func TestAutoCutRunOnce(t *testing.T) {
	store := &fakeStore{
		positions: []ShortPosition{
			{ID: "p1", Symbol: "btcusdt", AssetType: AssetCrypto, EntryPrice: 100, Quantity: 1, TotalValue: 100},
			{ID: "p2", Symbol: "NOPRICEUSDT", AssetType: AssetCrypto},
			{ID: "p3", Symbol: "ETHUSDT", AssetType: AssetCrypto},
			{ID: "p4", Symbol: "GOLD", AssetType: "commodity"},
			{ID: "p5", Symbol: "SOLUSDT"},
		},
		failFor: map[string]error{"p3": errors.New("deadlock")},
	}
	prices := fakePrices{"BTCUSDT": 90, "ETHUSDT": 3000, "SOLUSDT": 150, "GOLD": 1}

	res, err := NewAutoCutter(store, prices, zap.NewNop()).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, AutoCutResult{Settled: 2, Skipped: 2, Failed: 1}, res)
	assert.Equal(t, []settleCall{
		{ID: "p1", Price: 90, Status: StatusAutoCut},
		{ID: "p5", Price: 150, Status: StatusAutoCut},
	}, store.settled)
}

func TestAutoCutListFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("db down")}
	_, err := NewAutoCutter(store, fakePrices{}, zap.NewNop()).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestAutoCutSchedule(t *testing.T) {
	a := NewAutoCutter(&fakeStore{}, fakePrices{}, zap.NewNop())

	c, err := a.Schedule(context.Background(), "0 0 * * *", "Asia/Kolkata")
	require.NoError(t, err)

	entries := c.Entries()
	require.Len(t, entries, 1)
	ist, _ := time.LoadLocation("Asia/Kolkata")
	from := time.Date(2024, 1, 1, 12, 0, 0, 0, ist)
	next := entries[0].Schedule.Next(from)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, ist), next.In(ist))

	_, err = a.Schedule(context.Background(), "not a cron", "Asia/Kolkata")
	assert.Error(t, err)
	_, err = a.Schedule(context.Background(), "0 0 * * *", "Mars/Olympus")
	assert.Error(t, err)
}

func TestEmptyHoldings(t *testing.T) {
	held, err := EmptyHoldings{}.HeldSymbols(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Empty(t, held)
}
