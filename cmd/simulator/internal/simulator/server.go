package simulator

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
	MethodList        = "LIST_SUBSCRIPTIONS"
)

// ErrorPayload mirrors the provider's error body for rejected requests.
type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type errorResponse struct {
	Error ErrorPayload `json:"error"`
	ID    int64        `json:"id"`
}

// Server speaks the combined-stream provider protocol to any number of
// connections, each with its own subscription set.
type Server struct {
	gen      *TickerGenerator
	interval time.Duration
	logger   *zap.Logger
}

func NewServer(gen *TickerGenerator, interval time.Duration, logger *zap.Logger) *Server {
	return &Server{gen: gen, interval: interval, logger: logger}
}

type connection struct {
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[string]struct{}
}

func (c *connection) write(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.conn, payload)
}

func (c *connection) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.streams))
	for s := range c.streams {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ServeHTTP blocks for the lifetime of the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, streams: make(map[string]struct{})}
	s.logger.Info("Consumer connected", zap.String("remote", conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		s.readLoop(c)
	}()

	s.streamLoop(ctx, c)
	s.logger.Info("Consumer disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) readLoop(c *connection) {
	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		if err := s.handleRequest(c, data); err != nil {
			s.logger.Debug("Reply failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleRequest(c *connection, data []byte) error {
	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return c.write(errorResponse{Error: ErrorPayload{Code: 3, Msg: "Invalid JSON"}})
	}

	switch req.Method {
	case MethodSubscribe:
		c.mu.Lock()
		for _, p := range req.Params {
			c.streams[p] = struct{}{}
		}
		c.mu.Unlock()
		s.logger.Debug("Subscribed", zap.Strings("streams", req.Params))
		return c.write(SubscribeResponse{Result: nil, ID: req.ID})
	case MethodUnsubscribe:
		c.mu.Lock()
		for _, p := range req.Params {
			delete(c.streams, p)
		}
		c.mu.Unlock()
		return c.write(SubscribeResponse{Result: nil, ID: req.ID})
	case MethodList:
		return c.write(SubscribeResponse{Result: c.subscribed(), ID: req.ID})
	default:
		return c.write(errorResponse{Error: ErrorPayload{Code: 2, Msg: "Invalid request"}, ID: req.ID})
	}
}

// streamLoop emits one ticker per subscribed stream every interval.
func (s *Server) streamLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.subscribed() {
				if err := c.write(s.gen.Envelope(stream)); err != nil {
					s.logger.Debug("Write failed", zap.Error(err))
					return
				}
			}
		}
	}
}
