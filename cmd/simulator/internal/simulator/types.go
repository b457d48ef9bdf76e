package simulator

import (
	"math/rand"
	"sync"
	"time"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
}

// for deterministic values
type Rand interface {
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// RealRand is safe for concurrent use; every provider connection draws from it.
type RealRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRealRand(seed int64) *RealRand { return &RealRand{r: rand.New(rand.NewSource(seed))} }

func (r *RealRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// SubscribeRequest is the provider's stream subscription frame.
type SubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type SubscribeResponse struct {
	Result interface{} `json:"result"`
	ID     int64       `json:"id"`
}

// Envelope wraps every stream payload on the combined endpoint.
type Envelope struct {
	Stream string        `json:"stream"`
	Data   TickerPayload `json:"data"`
}

// TickerPayload is a 24hr rolling-window ticker; numbers travel as strings.
type TickerPayload struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	PriceChange   string `json:"p"`
	PercentChange string `json:"P"`
	LastPrice     string `json:"c"`
	OpenPrice     string `json:"o"`
}
