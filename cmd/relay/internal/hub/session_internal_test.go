package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/board"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/protocol"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/registry"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/testutils"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

func timerOf(s *Session, kind feedKind) *pushTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.slot(kind)
}

func stopped(t *pushTimer) bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func TestSession_RepeatedRequestReplacesTimer(t *testing.T) {
	reg := registry.New([]string{"BTCUSDT"})
	holdings := &testutils.MockHoldings{Held: map[string][]string{"u1": {"BTCUSDT"}}}
	h := NewHub(reg, board.NewAggregator(reg, nil), holdings, &testutils.MockSubscriber{},
		&testutils.MockTickReader{Ticks: map[string]models.Tick{}},
		Options{BoardInterval: time.Hour, WatchInterval: time.Hour}, zap.NewNop())

	client := testutils.NewMockClient("c1")
	s := h.Register(client, "u1")
	ctx := context.Background()

	for _, tc := range []struct {
		kind          feedKind
		request, stop string
	}{
		{boardFeed, protocol.ActionRequestBoardFeed, protocol.ActionStopBoardFeed},
		{watchFeed, protocol.ActionRequestWatchListFeed, protocol.ActionStopWatchListFeed},
	} {
		if s.hasTimer(tc.kind) {
			t.Fatalf("%s: timer present before any request", tc.request)
		}

		h.HandleCommand(ctx, client, protocol.WSRequest{Action: tc.request})
		first := timerOf(s, tc.kind)
		if first == nil || !s.hasTimer(tc.kind) {
			t.Fatalf("%s: no timer installed", tc.request)
		}

		h.HandleCommand(ctx, client, protocol.WSRequest{Action: tc.request})
		second := timerOf(s, tc.kind)
		if second == first {
			t.Errorf("%s: repeated request kept the old timer", tc.request)
		}
		if !stopped(first) {
			t.Errorf("%s: replaced timer is still running", tc.request)
		}

		h.HandleCommand(ctx, client, protocol.WSRequest{Action: tc.stop})
		if s.hasTimer(tc.kind) {
			t.Errorf("%s: timer survived %s", tc.request, tc.stop)
		}
		if !stopped(second) {
			t.Errorf("%s: timer still running after %s", tc.request, tc.stop)
		}
	}

	h.Unregister(client)
}
