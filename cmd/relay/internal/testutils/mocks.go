package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/protocol"
	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

// Message is a decoded outbound event with its data left raw.
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []Message // SendJSON and SendBytes, in arrival order
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]Message, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.SendBytes(b)
}

func (m *MockClient) SendBytes(b []byte) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = append(m.Messages, msg)
}

// OfType returns the received messages of type typ.
func (m *MockClient) OfType(typ string) []Message {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []Message
	for _, msg := range m.Messages {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockClient) Count(typ string) int { return len(m.OfType(typ)) }

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

func (m *MockClient) Reset() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = m.Messages[:0]
}

// ErrorCode decodes the code of an error event.
func ErrorCode(t *testing.T, msg Message) string {
	t.Helper()
	var p protocol.ErrorPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return p.Code
}

func DecodeTicks(t *testing.T, msg Message) []models.Tick {
	t.Helper()
	var ticks []models.Tick
	if err := json.Unmarshal(msg.Data, &ticks); err != nil {
		t.Fatalf("decode ticks: %v", err)
	}
	return ticks
}

func DecodeTick(t *testing.T, msg Message) models.Tick {
	t.Helper()
	var tick models.Tick
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	return tick
}

func DecodeBatch(t *testing.T, msg Message) models.WatchListBatch {
	t.Helper()
	var batch models.WatchListBatch
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	return batch
}

// MockHoldings answers HeldSymbols from a fixed map.
type MockHoldings struct {
	Held  map[string][]string
	Err   error
	Calls int
	Mu    sync.Mutex
}

func (m *MockHoldings) HeldSymbols(ctx context.Context, identity string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Held[identity], nil
}

// MockSubscriber records EnsureSubscribed calls.
type MockSubscriber struct {
	Requests [][]string
	Mu       sync.Mutex
}

func (m *MockSubscriber) EnsureSubscribed(ctx context.Context, symbols []string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Requests = append(m.Requests, append([]string(nil), symbols...))
	return nil
}

// MockTickReader simulates the Tick Store cache.
type MockTickReader struct {
	Ticks map[string]models.Tick
}

func (m *MockTickReader) MGet(ctx context.Context, symbols []string) ([]*models.Tick, error) {
	out := make([]*models.Tick, len(symbols))
	for i, s := range symbols {
		if t, ok := m.Ticks[models.CanonicalSymbol(s)]; ok {
			t := t
			out[i] = &t
		}
	}
	return out, nil
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
