package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT and the fake provider
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/auth"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/board"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/feed"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/gateway"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/hub"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/protocol"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/testutils"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
	"github.com/aryanseth9795/stocklabs-backend/pkg/tickstore"
)

const usdInr = 86.0

type fixedRate float64

func (r fixedRate) Rate() float64 { return float64(r) }

// fakeProvider speaks the combined-stream protocol over a gorilla server.
type fakeProvider struct {
	server *httptest.Server
	mu     sync.Mutex
	params []string
	out    chan string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{out: make(chan string, 16)}
	upgrader := websocket.Upgrader{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range p.out {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()

		for {
			var req feed.SubscribeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			p.mu.Lock()
			p.params = append(p.params, req.Params...)
			p.mu.Unlock()
		}
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) subscribed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.params...)
}

func (p *fakeProvider) ticker(symbol, price, change string) {
	p.out <- `{"stream":"` + strings.ToLower(symbol) + `@ticker","data":{"e":"24hrTicker","s":"` + symbol +
		`","c":"` + price + `","p":"` + change + `","P":"0.3"}}`
}

type relay struct {
	server   *httptest.Server
	mr       *miniredis.Miniredis
	provider *fakeProvider
	verifier *auth.Verifier
	hub      *hub.Hub
}

func startRelay(t *testing.T, held map[string][]string) *relay {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := tickstore.NewRedisStore(rdb, zap.NewNop(), time.Hour)

	reg := registry.New([]string{"BTCUSDT", "ETHUSDT"})
	agg := board.NewAggregator(reg, store)
	provider := newFakeProvider(t)

	client := feed.NewClient(feed.Options{
		URL:         "ws" + strings.TrimPrefix(provider.server.URL, "http"),
		Channel:     "ticker",
		ReadTimeout: 5 * time.Second,
		Backoff:     feed.Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond},
	}, reg.Symbols(), feed.GorillaDialer(nil), store, feed.NewNormalizer(fixedRate(usdInr)), zap.NewNop())
	go client.Run(ctx)

	wsHub := hub.NewHub(reg, agg, &testutils.MockHoldings{Held: held}, client, store,
		hub.Options{BoardInterval: time.Hour, WatchInterval: time.Hour}, zap.NewNop())
	ticks, err := store.Subscribe(ctx, models.TickPattern)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	go wsHub.Run(ctx, ticks)

	verifier := auth.NewVerifier(auth.Options{Secret: "it-secret", QueryParam: "token", CookieName: "token"})
	server := httptest.NewServer(gateway.NewHandler(ctx, wsHub, verifier, gateway.Options{
		WriteWait: time.Second, PongWait: time.Minute, PingPeriod: time.Minute, SendBuffer: 64,
	}, zap.NewNop()))
	t.Cleanup(server.Close)

	return &relay{server: server, mr: mr, provider: provider, verifier: verifier, hub: wsHub}
}

func connectWS(t *testing.T, serverURL, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	if token != "" {
		url += "?token=" + token
	}
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, match func(testutils.Message) bool) testutils.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var msg testutils.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Waiting for %s: %v", typ, err)
		}
		if msg.Type == typ && (match == nil || match(msg)) {
			return msg
		}
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestEndToEnd_BoardFlow(t *testing.T) {
	r := startRelay(t, nil)
	waitFor(t, func() bool { return contains(r.provider.subscribed(), "btcusdt@ticker") }, "initial SUBSCRIBE")

	wsConn := connectWS(t, r.server.URL, "")
	readUntil(t, wsConn, protocol.TypeBoard, nil)

	r.provider.ticker("BTCUSDT", "50000", "150")

	msg := readUntil(t, wsConn, protocol.TypeBoard, func(m testutils.Message) bool {
		return len(testutils.DecodeTicks(t, m)) > 0
	})
	ticks := testutils.DecodeTicks(t, msg)
	if ticks[0].Symbol != "BTCUSDT" || ticks[0].PriceConverted != 50000*usdInr {
		t.Errorf("Unexpected board entry %+v", ticks[0])
	}

	raw, err := r.mr.Get("tick:btcusdt")
	if err != nil {
		t.Fatalf("Tick not cached in Redis: %v", err)
	}
	var cached models.Tick
	json.Unmarshal([]byte(raw), &cached)
	if cached.PriceConverted != 4300000 || cached.ChangeConverted != 12900 {
		t.Errorf("Unexpected cached tick %+v", cached)
	}
}

func TestEndToEnd_GuestWatchListRejected(t *testing.T) {
	r := startRelay(t, nil)
	wsConn := connectWS(t, r.server.URL, "")
	readUntil(t, wsConn, protocol.TypeBoard, nil)

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"requestWatchListFeed","id":"w1"}`))

	msg := readUntil(t, wsConn, protocol.TypeError, nil)
	if code := testutils.ErrorCode(t, msg); code != protocol.CodeAuthRequired {
		t.Errorf("Expected AUTH_REQUIRED, got %s", code)
	}
}

func TestEndToEnd_WatchListGrowsSubscription(t *testing.T) {
	r := startRelay(t, map[string][]string{"u1": {"BTCUSDT", "PEPEUSDT"}})
	waitFor(t, func() bool { return contains(r.provider.subscribed(), "btcusdt@ticker") }, "initial SUBSCRIBE")
	token, err := r.verifier.Issue("u1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	wsConn := connectWS(t, r.server.URL, token)
	readUntil(t, wsConn, protocol.TypeBoard, nil)

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"requestWatchListFeed"}`))
	readUntil(t, wsConn, protocol.TypeWatchListBatch, nil)

	waitFor(t, func() bool { return contains(r.provider.subscribed(), "pepeusdt@ticker") }, "off-board SUBSCRIBE")

	r.provider.ticker("PEPEUSDT", "0.00001", "0")
	msg := readUntil(t, wsConn, protocol.TypeTick, nil)
	if tick := testutils.DecodeTick(t, msg); tick.Symbol != "PEPEUSDT" {
		t.Errorf("Expected PEPEUSDT tick, got %+v", tick)
	}

	// A second request must not re-send the symbol upstream.
	wsConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"requestWatchListFeed"}`))
	readUntil(t, wsConn, protocol.TypeWatchListBatch, nil)
	n := 0
	for _, p := range r.provider.subscribed() {
		if p == "pepeusdt@ticker" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("pepeusdt@ticker subscribed %d times", n)
	}
}
