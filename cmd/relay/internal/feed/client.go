// Package feed maintains the single upstream provider connection and turns
// its messages into Ticks.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/metrics"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
	"github.com/aryanseth9795/stocklabs-backend/pkg/tickstore"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

// GorillaDialer adapts a gorilla dialer to DialFunc.
func GorillaDialer(d *websocket.Dialer) DialFunc {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

type Options struct {
	URL         string
	Channel     string
	ReadTimeout time.Duration

	// WriteTimeout bounds every SUBSCRIBE write; writes happen under the
	// subscription lock, so an unbounded one stalls every caller.
	WriteTimeout time.Duration
	Backoff      Backoff
}

// SubscribeRequest is the provider's stream subscription frame.
type SubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type Client struct {
	opts       Options
	dial       DialFunc
	sink       tickstore.Sink
	normalizer *Normalizer
	logger     *zap.Logger

	// mu guards the subscription set, the live conn and all writes to it.
	mu         sync.Mutex
	subscribed map[string]struct{}
	order      []string
	conn       Conn

	nextID atomic.Int64
}

// NewClient seeds the subscription set with initial, usually the registry symbols.
func NewClient(opts Options, initial []string, dial DialFunc, sink tickstore.Sink, normalizer *Normalizer, logger *zap.Logger) *Client {
	if opts.Channel == "" {
		opts.Channel = "ticker"
	}
	c := &Client{
		opts:       opts,
		dial:       dial,
		sink:       sink,
		normalizer: normalizer,
		logger:     logger,
		subscribed: make(map[string]struct{}),
	}
	c.addLocked(initial)
	return c
}

// Subscribed returns the subscription set in insertion order.
func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// EnsureSubscribed adds symbols not yet in the set and, when connected, sends
// one SUBSCRIBE for just those. Symbols added while disconnected go out with
// the next connect.
func (c *Client) EnsureSubscribed(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := c.addLocked(symbols)
	if len(fresh) == 0 || c.conn == nil {
		return nil
	}
	if err := c.subscribeLocked(fresh); err != nil {
		// The symbols stay in the set; force a reconnect so they are resent.
		_ = c.conn.Close()
		return fmt.Errorf("subscribe %v: %w", fresh, err)
	}
	c.logger.Info("Subscription set grown", zap.Strings("symbols", fresh))
	return nil
}

// ListenRequests applies cross-process subscription requests until ctx is done
// or requests is closed.
func (c *Client) ListenRequests(ctx context.Context, requests <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbols, ok := <-requests:
			if !ok {
				return
			}
			if err := c.EnsureSubscribed(ctx, symbols); err != nil {
				c.logger.Warn("Subscription request failed", zap.Strings("symbols", symbols), zap.Error(err))
			}
		}
	}
}

// Run keeps the provider connection alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.logger.Info("Upstream connected", zap.String("url", c.opts.URL), zap.Int("symbols", len(c.Subscribed())))
			err = c.readLoop(ctx, conn)
			c.detach(conn)
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		wait := c.opts.Backoff.Next(attempt)
		metrics.UpstreamReconnects.Inc()
		c.logger.Warn("Upstream connection lost, reconnecting",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) connect(ctx context.Context) (Conn, error) {
	conn, err := c.dial(ctx, c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if len(c.order) == 0 {
		return conn, nil
	}
	if err := c.subscribeLocked(c.order); err != nil {
		c.conn = nil
		_ = conn.Close()
		return nil, fmt.Errorf("initial subscribe: %w", err)
	}
	return conn, nil
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if c.opts.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
				return err
			}
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handle(ctx, raw)
	}
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	ev, err := ParseEvent(raw)
	if err != nil {
		metrics.UpstreamMessages.WithLabelValues("malformed").Inc()
		c.logger.Debug("Dropping malformed provider message", zap.Error(err))
		return
	}
	metrics.UpstreamMessages.WithLabelValues(Kind(ev)).Inc()

	switch e := ev.(type) {
	case TickerEvent:
		tick := c.normalizer.Normalize(e)
		if err := c.sink.Set(ctx, tick); err != nil && !errors.Is(err, context.Canceled) {
			metrics.SinkErrors.Inc()
			c.logger.Error("Tick store write failed", zap.String("symbol", tick.Symbol), zap.Error(err))
		}
	case AckEvent:
		if e.Error != "" {
			c.logger.Warn("Provider rejected request", zap.Int64("id", e.ID), zap.String("error", e.Error))
		} else {
			c.logger.Debug("Provider acknowledged request", zap.Int64("id", e.ID))
		}
	case UnrecognizedEvent:
	}
}

func (c *Client) addLocked(symbols []string) []string {
	var fresh []string
	for _, s := range symbols {
		sym := models.CanonicalSymbol(s)
		if sym == "" {
			continue
		}
		if _, ok := c.subscribed[sym]; ok {
			continue
		}
		c.subscribed[sym] = struct{}{}
		c.order = append(c.order, sym)
		fresh = append(fresh, sym)
	}
	metrics.UpstreamSubscriptions.Set(float64(len(c.order)))
	return fresh
}

func (c *Client) subscribeLocked(symbols []string) error {
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = models.Stream(s, c.opts.Channel)
	}
	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(SubscribeRequest{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     c.nextID.Add(1),
	})
}
