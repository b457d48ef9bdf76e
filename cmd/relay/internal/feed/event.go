package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed marks provider payloads that are not valid JSON or carry a
// ticker with unparseable numbers.
var ErrMalformed = errors.New("malformed provider message")

const tickerEventType = "24hrTicker"

// Event is one parsed provider message. The concrete type is one of
// TickerEvent, AckEvent or UnrecognizedEvent.
type Event interface {
	kind() string
}

type TickerEvent struct {
	Stream        string
	Symbol        string
	EventTime     int64
	LastPrice     float64
	PriceChange   float64
	PercentChange float64
}

// AckEvent answers a SUBSCRIBE request. Error is empty on success.
type AckEvent struct {
	ID    int64
	Error string
}

type UnrecognizedEvent struct {
	Type string
}

func (TickerEvent) kind() string       { return "ticker" }
func (AckEvent) kind() string          { return "ack" }
func (UnrecognizedEvent) kind() string { return "unrecognized" }

// Kind names the event variant for logs and metrics.
func Kind(e Event) string { return e.kind() }

// ParseEvent decodes a combined-stream envelope, a bare stream payload, or a
// request response.
func ParseEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrMalformed
	}

	stream := root.Get("stream")
	id := root.Get("id")
	if !stream.Exists() && id.Exists() && (root.Get("result").Exists() || root.Get("error").Exists()) {
		return AckEvent{ID: id.Int(), Error: root.Get("error.msg").String()}, nil
	}

	data := root.Get("data")
	if !data.Exists() {
		data = root
	}
	eventType := data.Get("e").String()
	if eventType != tickerEventType {
		return UnrecognizedEvent{Type: eventType}, nil
	}

	symbol := data.Get("s").String()
	if symbol == "" {
		symbol, _, _ = strings.Cut(stream.String(), "@")
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: ticker without symbol", ErrMalformed)
	}

	last, err := number(data, "c")
	if err != nil {
		return nil, err
	}
	change, err := number(data, "p")
	if err != nil {
		return nil, err
	}
	pct, err := number(data, "P")
	if err != nil {
		return nil, err
	}

	return TickerEvent{
		Stream:        stream.String(),
		Symbol:        symbol,
		EventTime:     data.Get("E").Int(),
		LastPrice:     last,
		PriceChange:   change,
		PercentChange: pct,
	}, nil
}

// number reads a field the provider may send as a quoted decimal or a bare number.
func number(obj gjson.Result, field string) (float64, error) {
	v := obj.Get(field)
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %s: %v", ErrMalformed, field, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: field %s missing", ErrMalformed, field)
	}
}
