package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/metrics"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/protocol"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

type Board interface {
	Update(tick models.Tick) bool
	Snapshot() []models.Tick
	Filter(symbols []string) []models.Tick
}

type Holdings interface {
	HeldSymbols(ctx context.Context, identity string) ([]string, error)
}

// Subscriber grows the upstream subscription set, in process or via the Tick Store.
type Subscriber interface {
	EnsureSubscribed(ctx context.Context, symbols []string) error
}

type TickReader interface {
	MGet(ctx context.Context, symbols []string) ([]*models.Tick, error)
}

type Options struct {
	BoardInterval time.Duration
	WatchInterval time.Duration
}

type Stats struct {
	Users  int `json:"users"`
	Guests int `json:"guests"`
}

type Hub struct {
	registry   *registry.Registry
	board      Board
	holdings   Holdings
	subscriber Subscriber
	ticks      TickReader
	logger     *zap.Logger
	opts       Options
	now        func() time.Time

	// mu guards the indexes below and every Session.rooms.
	mu         sync.RWMutex
	sessions   map[ClientInterface]*Session
	identities map[string]*Session
	guests     map[*Session]struct{}
	boardGroup map[*Session]struct{}
	rooms      map[string]map[*Session]struct{}
}

func NewHub(reg *registry.Registry, board Board, holdings Holdings, subscriber Subscriber, ticks TickReader, opts Options, logger *zap.Logger) *Hub {
	return &Hub{
		registry:   reg,
		board:      board,
		holdings:   holdings,
		subscriber: subscriber,
		ticks:      ticks,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		sessions:   make(map[ClientInterface]*Session),
		identities: make(map[string]*Session),
		guests:     make(map[*Session]struct{}),
		boardGroup: make(map[*Session]struct{}),
		rooms:      make(map[string]map[*Session]struct{}),
	}
}

// Register admits client as identity, or as a guest when identity is empty.
// A live session for the same identity is force-closed before the new one is
// indexed. The new session joins the board group and gets one snapshot.
func (h *Hub) Register(client ClientInterface, identity string) *Session {
	s := newSession(client, identity)

	for {
		h.mu.Lock()
		old := h.identities[identity]
		if identity == "" || old == nil {
			h.sessions[client] = s
			if identity == "" {
				h.guests[s] = struct{}{}
			} else {
				h.identities[identity] = s
			}
			h.boardGroup[s] = struct{}{}
			h.updateGaugesLocked()
			h.mu.Unlock()
			break
		}
		h.mu.Unlock()

		h.logger.Info("Evicting previous session", zap.String("identity", identity), zap.String("session", old.ID()))
		metrics.Evictions.Inc()
		h.cleanup(old)
		old.client.Close()
	}

	h.logger.Debug("Session registered", zap.String("session", s.ID()), zap.Bool("guest", s.IsGuest()))
	h.emit(s, protocol.WSResponse{Type: protocol.TypeBoard, Data: h.board.Snapshot()})
	return s
}

// Unregister tears down the client's session. Safe to call more than once.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.RLock()
	s := h.sessions[client]
	h.mu.RUnlock()
	if s != nil {
		h.cleanup(s)
	}
	client.Close()
}

func (h *Hub) cleanup(s *Session) {
	s.cleanup.Do(func() {
		s.close()

		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.boardGroup, s)
		h.leaveRoomsLocked(s)
		if h.sessions[s.client] == s {
			delete(h.sessions, s.client)
		}
		if s.identity == "" {
			delete(h.guests, s)
		} else if h.identities[s.identity] == s {
			delete(h.identities, s.identity)
		}
		h.updateGaugesLocked()
	})
}

func (h *Hub) session(client ClientInterface) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[client]
}

// HandleCommand runs one inbound action. Calls for the same client must not
// overlap; the gateway read pump guarantees that.
func (h *Hub) HandleCommand(ctx context.Context, client ClientInterface, req protocol.WSRequest) {
	s := h.session(client)
	if s == nil {
		return
	}

	switch req.Action {
	case protocol.ActionRequestBoardFeed:
		h.handleRequestBoardFeed(s, req)
	case protocol.ActionStopBoardFeed:
		s.cancelTimer(boardFeed)
	case protocol.ActionRequestWatchListFeed:
		h.handleRequestWatchListFeed(ctx, s, req)
	case protocol.ActionStopWatchListFeed:
		s.cancelTimer(watchFeed)
		h.mu.Lock()
		h.leaveRoomsLocked(s)
		h.mu.Unlock()
	default:
		h.sendError(s, req.ID, protocol.CodeUnknownAction, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleRequestBoardFeed(s *Session, req protocol.WSRequest) {
	if s.hasTimer(boardFeed) {
		h.logger.Debug("Restarting board feed", zap.String("client", s.ID()))
	}
	s.cancelTimer(boardFeed)
	h.pushBoard(s)
	s.setTimer(boardFeed, startTimer(h.opts.BoardInterval, func() { h.pushBoard(s) }))
}

func (h *Hub) handleRequestWatchListFeed(ctx context.Context, s *Session, req protocol.WSRequest) {
	if s.IsGuest() {
		h.sendError(s, req.ID, protocol.CodeAuthRequired, "Login required for watch-list feed")
		return
	}

	held, err := h.holdings.HeldSymbols(ctx, s.identity)
	if err != nil {
		h.logger.Error("Holdings lookup failed", zap.String("identity", s.identity), zap.Error(err))
		h.sendError(s, req.ID, protocol.CodeHoldingsUnavailable, "Could not load holdings")
		return
	}
	held = canonical(held)

	if s.hasTimer(watchFeed) {
		h.logger.Debug("Restarting watch-list feed", zap.String("client", s.ID()))
	}
	s.cancelTimer(watchFeed)

	offBoard := h.registry.OffBoard(held)
	if len(offBoard) > 0 && h.subscriber != nil {
		if err := h.subscriber.EnsureSubscribed(ctx, offBoard); err != nil {
			h.logger.Warn("Upstream subscription failed", zap.Strings("symbols", offBoard), zap.Error(err))
		}
	}

	h.mu.Lock()
	if h.sessions[s.client] != s {
		h.mu.Unlock()
		return
	}
	h.leaveRoomsLocked(s)
	// Board symbols arrive in the batch; rooms carry only off-board ticks.
	for _, sym := range offBoard {
		room := models.Room(sym)
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Session]struct{})
		}
		h.rooms[room][s] = struct{}{}
		s.rooms[room] = struct{}{}
	}
	h.mu.Unlock()

	h.pushWatchList(s, held)

	if len(offBoard) > 0 && h.ticks != nil {
		cached, err := h.ticks.MGet(ctx, offBoard)
		if err != nil {
			h.logger.Warn("Tick store lookup failed", zap.Strings("symbols", offBoard), zap.Error(err))
		}
		for _, t := range cached {
			if t != nil {
				h.emit(s, protocol.WSResponse{Type: protocol.TypeTick, Data: *t})
			}
		}
	}

	s.setTimer(watchFeed, startTimer(h.opts.WatchInterval, func() { h.pushWatchList(s, held) }))
}

func (h *Hub) pushBoard(s *Session) {
	h.emit(s, protocol.WSResponse{Type: protocol.TypeBoard, Data: h.board.Snapshot()})
}

func (h *Hub) pushWatchList(s *Session, held []string) {
	h.emit(s, protocol.WSResponse{
		Type: protocol.TypeWatchListBatch,
		Data: models.WatchListBatch{Timestamp: h.now().UnixMilli(), Ticks: h.board.Filter(held)},
	})
}

// Run dispatches ticks until ctx is done or ticks is closed.
func (h *Hub) Run(ctx context.Context, ticks <-chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			h.Dispatch(t)
		}
	}
}

// Dispatch applies one tick: board update and broadcast, then the tick to
// its instrument room.
func (h *Hub) Dispatch(t models.Tick) {
	t.Symbol = models.CanonicalSymbol(t.Symbol)

	if h.board.Update(t) {
		h.mu.RLock()
		targets := members(h.boardGroup)
		h.mu.RUnlock()
		h.broadcast(targets, protocol.WSResponse{Type: protocol.TypeBoard, Data: h.board.Snapshot()})
	}

	h.mu.RLock()
	targets := members(h.rooms[models.Room(t.Symbol)])
	h.mu.RUnlock()
	h.broadcast(targets, protocol.WSResponse{Type: protocol.TypeTick, Data: t})
}

func (h *Hub) broadcast(targets []*Session, resp protocol.WSResponse) {
	if len(targets) == 0 {
		return
	}
	msg, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", resp.Type), zap.Error(err))
		return
	}
	for _, s := range targets {
		s.client.SendBytes(msg)
	}
	metrics.Emits.WithLabelValues(resp.Type).Add(float64(len(targets)))
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Users: len(h.identities), Guests: len(h.guests)}
}

func (h *Hub) emit(s *Session, resp protocol.WSResponse) {
	s.client.SendJSON(resp)
	metrics.Emits.WithLabelValues(resp.Type).Inc()
}

func (h *Hub) sendError(s *Session, id, code, msg string) {
	h.emit(s, protocol.Error(id, code, msg))
}

func (h *Hub) leaveRoomsLocked(s *Session) {
	for room := range s.rooms {
		if members := h.rooms[room]; members != nil {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		delete(s.rooms, room)
	}
}

func (h *Hub) updateGaugesLocked() {
	metrics.Sessions.WithLabelValues("user").Set(float64(len(h.identities)))
	metrics.Sessions.WithLabelValues("guest").Set(float64(len(h.guests)))
}

func members(group map[*Session]struct{}) []*Session {
	out := make([]*Session, 0, len(group))
	for s := range group {
		out = append(out, s)
	}
	return out
}

func canonical(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := models.CanonicalSymbol(s)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
