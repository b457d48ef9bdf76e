package tickstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	return NewRedisStore(rdb, zap.NewNop(), time.Hour), mr
}

func TestRedisStore_SetWritesKeyAndPublishes(t *testing.T) {
	store, mr := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := store.Subscribe(ctx, models.TickPattern)
	require.NoError(t, err)

	tick := models.Tick{Symbol: "BTCUSDT", Price: 50000, PriceConverted: 4300000, Timestamp: 1}
	require.NoError(t, store.Set(ctx, tick))

	raw, err := mr.Get("tick:btcusdt")
	require.NoError(t, err)
	var cached models.Tick
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, tick, cached)
	assert.True(t, mr.TTL("tick:btcusdt") > 0)

	select {
	case got := <-stream:
		assert.Equal(t, tick, got)
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not published")
	}
}

func TestRedisStore_LastWriteWins(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, models.Tick{Symbol: "ETHUSDT", Price: 3000, Timestamp: 20}))
	require.NoError(t, store.Set(ctx, models.Tick{Symbol: "ETHUSDT", Price: 2900, Timestamp: 10}))

	got, ok, err := store.Get(ctx, "ethusdt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2900.0, got.Price)
}

func TestRedisStore_MGetMarksMisses(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, models.Tick{Symbol: "SOLUSDT", Price: 150}))

	ticks, err := store.MGet(ctx, []string{"SOLUSDT", "XRPUSDT"})
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	require.NotNil(t, ticks[0])
	assert.Equal(t, 150.0, ticks[0].Price)
	assert.Nil(t, ticks[1])

	_, ok, err := store.Get(ctx, "XRPUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_KeepsLocalCopyWhenRedisFails(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	mr.Close()

	err := store.Set(ctx, models.Tick{Symbol: "DOGEUSDT", Price: 0.12})
	assert.Error(t, err)

	got, ok, err := store.Get(ctx, "DOGEUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.12, got.Price)

	ticks, err := store.MGet(ctx, []string{"DOGEUSDT", "BTCUSDT"})
	require.NoError(t, err)
	require.NotNil(t, ticks[0])
	assert.Nil(t, ticks[1])
}

func TestRedisStore_SubscribeDropsMalformedPayloads(t *testing.T) {
	store, mr := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := store.Subscribe(ctx, models.TickPattern)
	require.NoError(t, err)

	mr.Publish("tick.btcusdt", "{not json")
	mr.Publish("tick.btcusdt", `{"symbol":"BTCUSDT","price":1}`)

	select {
	case got := <-stream:
		assert.Equal(t, 1.0, got.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("valid tick after malformed one was not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-stream
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStore_SubscribeTakesSymbolFromChannel(t *testing.T) {
	store, mr := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := store.Subscribe(ctx, models.TickPattern)
	require.NoError(t, err)

	mr.Publish("tick.ethusdt", `{"symbol":"BTCUSDT","price":1}`)
	mr.Publish("tick.ethusdt", `{"price":2}`)
	mr.Publish("tick.solusdt", `{"symbol":"solusdt","price":3}`)

	for _, want := range []models.Tick{
		{Symbol: "ETHUSDT", Price: 2},
		{Symbol: "SOLUSDT", Price: 3},
	} {
		select {
		case got := <-stream:
			assert.Equal(t, want.Symbol, got.Symbol)
			assert.Equal(t, want.Price, got.Price)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick for %s not delivered", want.Symbol)
		}
	}
}

func TestRedisStore_SubscriptionRequestsRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, err := store.SubscriptionRequests(ctx)
	require.NoError(t, err)

	require.NoError(t, store.RequestSubscription(ctx, []string{"PEPEUSDT", "WIFUSDT"}))

	select {
	case got := <-requests:
		assert.Equal(t, []string{"PEPEUSDT", "WIFUSDT"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription request not delivered")
	}
}
