package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/hub"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/metrics"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/protocol"
)

const (
	maxMessageSize = 4 * 1024
)

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	SendBuffer     int
	MessagesPerSec float64
	MessageBurst   int
}

type ClientAdapter struct {
	id      string
	conn    net.Conn
	hub     *hub.Hub
	send    chan []byte
	pongs   chan []byte
	logger  *zap.Logger
	limiter *rate.Limiter
	opts    Options

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, opts Options) *ClientAdapter {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	var limiter *rate.Limiter
	if opts.MessagesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSec), max(opts.MessageBurst, 1))
	}
	return &ClientAdapter{
		id:      uuid.NewString(),
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, opts.SendBuffer),
		pongs:   make(chan []byte, 1),
		logger:  logger,
		limiter: limiter,
		opts:    opts,
	}
}

// Start launches the pumps. The caller must already have registered the
// client with the hub.
func (c *ClientAdapter) Start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}

func (c *ClientAdapter) ID() string { return c.id }

// Close is idempotent; writePump sends the close frame and closes the conn.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

// SendBytes never blocks: a full buffer drops the message.
func (c *ClientAdapter) SendBytes(b []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.DroppedSends.Inc()
	}
}

func (c *ClientAdapter) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.String("client", c.id), zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)", zap.String("client", c.id))
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		// Any inbound frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			select {
			case c.pongs <- payload:
			default:
			}
			continue
		case ws.OpPong:
			continue
		case ws.OpText:
		default:
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.logger.Debug("Dropping rate-limited message", zap.String("client", c.id))
			continue
		}

		var req protocol.WSRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.SendJSON(protocol.Error("", protocol.CodeInvalidMessage, "Invalid JSON"))
			continue
		}

		c.hub.HandleCommand(ctx, c, req)
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case payload := <-c.pongs:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPong, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
