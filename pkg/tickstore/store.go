package tickstore

import (
	"context"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

// SubscribeRequestChannel carries feed subscription requests between relay processes.
const SubscribeRequestChannel = "feed.subscribe"

// Sink receives normalized ticks from the upstream feed.
type Sink interface {
	Set(ctx context.Context, tick models.Tick) error
}

// Store is the process-wide tick cache plus its cross-process publish channel.
type Store interface {
	Sink
	Get(ctx context.Context, symbol string) (models.Tick, bool, error)
	// MGet returns one entry per requested symbol; nil marks a symbol with no cached tick.
	MGet(ctx context.Context, symbols []string) ([]*models.Tick, error)
	Subscribe(ctx context.Context, pattern string) (<-chan models.Tick, error)
	RequestSubscription(ctx context.Context, symbols []string) error
	SubscriptionRequests(ctx context.Context) (<-chan []string, error)
	Ping(ctx context.Context) error
	Close() error
}
