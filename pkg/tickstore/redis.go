package tickstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

const streamBuffer = 1024

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]models.Tick
}

func NewRedisStore(client *redis.Client, logger *zap.Logger, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		local:  make(map[string]models.Tick),
	}
}

// Set keeps the tick locally, then writes SET + PUBLISH in one pipeline.
// The local copy survives a failed pipeline.
func (r *RedisStore) Set(ctx context.Context, tick models.Tick) error {
	symbol := models.CanonicalSymbol(tick.Symbol)
	if symbol == "" {
		return errors.New("tick without symbol")
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("encode tick %s: %w", symbol, err)
	}

	r.mu.Lock()
	r.local[symbol] = tick
	r.mu.Unlock()

	pipe := r.client.Pipeline()
	pipe.Set(ctx, models.Key(symbol), payload, r.ttl)
	pipe.Publish(ctx, models.Channel(symbol), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store tick %s: %w", symbol, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (models.Tick, bool, error) {
	raw, err := r.client.Get(ctx, models.Key(symbol)).Bytes()
	switch {
	case err == nil:
		var tick models.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			return models.Tick{}, false, fmt.Errorf("decode tick %s: %w", symbol, err)
		}
		return tick, true, nil
	case errors.Is(err, redis.Nil):
		tick, ok := r.localTick(symbol)
		return tick, ok, nil
	default:
		if tick, ok := r.localTick(symbol); ok {
			return tick, true, nil
		}
		return models.Tick{}, false, fmt.Errorf("get tick %s: %w", symbol, err)
	}
}

// MGet fetches the latest ticks for a list of symbols in one round trip.
func (r *RedisStore) MGet(ctx context.Context, symbols []string) ([]*models.Tick, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = models.Key(sym)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warn("MGET failed, serving local ticks", zap.Error(err))
		return r.localTicks(symbols), nil
	}

	ticks := make([]*models.Tick, len(symbols))
	for i, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			if tick, ok := r.localTick(symbols[i]); ok {
				ticks[i] = &tick
			}
			continue
		}
		var tick models.Tick
		if err := json.Unmarshal([]byte(payload), &tick); err != nil {
			r.logger.Debug("Dropping malformed cached tick", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		ticks[i] = &tick
	}
	return ticks, nil
}

// Subscribe pattern-subscribes to tick channels and decodes every payload.
// The returned channel is closed when ctx is done.
func (r *RedisStore) Subscribe(ctx context.Context, pattern string) (<-chan models.Tick, error) {
	ps := r.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	out := make(chan models.Tick, streamBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				tick, ok := decodeTick(msg.Channel, msg.Payload)
				if !ok {
					r.logger.Debug("Dropping malformed tick payload", zap.String("channel", msg.Channel))
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// decodeTick parses a payload published on a tick channel. The channel names
// the symbol; a payload without one takes it from the channel and a payload
// naming a different symbol is rejected.
func decodeTick(channel, payload string) (models.Tick, bool) {
	symbol, ok := models.SymbolFromChannel(channel)
	if !ok {
		return models.Tick{}, false
	}
	var tick models.Tick
	if err := json.Unmarshal([]byte(payload), &tick); err != nil {
		return models.Tick{}, false
	}
	if tick.Symbol != "" && models.CanonicalSymbol(tick.Symbol) != symbol {
		return models.Tick{}, false
	}
	tick.Symbol = symbol
	return tick, true
}

func (r *RedisStore) RequestSubscription(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	payload, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("encode subscription request: %w", err)
	}
	if err := r.client.Publish(ctx, SubscribeRequestChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish subscription request: %w", err)
	}
	return nil
}

func (r *RedisStore) SubscriptionRequests(ctx context.Context) (<-chan []string, error) {
	ps := r.client.Subscribe(ctx, SubscribeRequestChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", SubscribeRequestChannel, err)
	}

	out := make(chan []string, 64)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var symbols []string
				if err := json.Unmarshal([]byte(msg.Payload), &symbols); err != nil {
					r.logger.Debug("Dropping malformed subscription request", zap.Error(err))
					continue
				}
				select {
				case out <- symbols:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) localTick(symbol string) (models.Tick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tick, ok := r.local[models.CanonicalSymbol(symbol)]
	return tick, ok
}

func (r *RedisStore) localTicks(symbols []string) []*models.Tick {
	ticks := make([]*models.Tick, len(symbols))
	for i, sym := range symbols {
		if tick, ok := r.localTick(sym); ok {
			ticks[i] = &tick
		}
	}
	return ticks
}
