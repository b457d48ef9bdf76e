package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// DeadlineExceeded stops the processor's read loop cleanly in tests
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockSink records every tick it is given, in arrival order.
type MockSink struct {
	Ticks []models.Tick
	Err   error
	Mu    sync.Mutex
}

func (m *MockSink) Set(ctx context.Context, tick models.Tick) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Ticks = append(m.Ticks, tick)
	return nil
}

// BySymbol returns the recorded prices of one symbol in arrival order.
func (m *MockSink) BySymbol(symbol string) []float64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []float64
	for _, t := range m.Ticks {
		if t.Symbol == symbol {
			out = append(out, t.Price)
		}
	}
	return out
}
