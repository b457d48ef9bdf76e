package models

import "strings"

const (
	keyPrefix     = "tick:"
	channelPrefix = "tick."

	// TickPattern matches every per-symbol tick channel.
	TickPattern = channelPrefix + "*"
)

// Tick is one normalized market update for one instrument.
// A Tick is never mutated after construction; the next tick for the same
// symbol supersedes it.
type Tick struct {
	Symbol          string  `json:"symbol"`
	Price           float64 `json:"price"`
	PriceConverted  float64 `json:"priceConverted"`
	Change          float64 `json:"change"`
	ChangeConverted float64 `json:"changeConverted"`
	PercentChange   float64 `json:"percentChange"`
	Timestamp       int64   `json:"timestamp"` // unix milli
}

// WatchListBatch is the payload of a watchlist:batch event.
type WatchListBatch struct {
	Timestamp int64  `json:"timestamp"`
	Ticks     []Tick `json:"ticks"`
}

// CanonicalSymbol is the single stored form of a symbol. Every other
// representation (cache key, channel, provider stream, room) derives from it.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Key is the Tick Store cache key for a symbol.
func Key(symbol string) string {
	return keyPrefix + strings.ToLower(CanonicalSymbol(symbol))
}

// Channel is the pub/sub channel for a symbol.
func Channel(symbol string) string {
	return channelPrefix + strings.ToLower(CanonicalSymbol(symbol))
}

// SymbolFromChannel reverses Channel. ok is false for foreign channels.
func SymbolFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || len(channel) == len(channelPrefix) {
		return "", false
	}
	return CanonicalSymbol(channel[len(channelPrefix):]), true
}

// Stream is the provider stream identifier, e.g. "btcusdt@ticker".
func Stream(symbol, channel string) string {
	return strings.ToLower(CanonicalSymbol(symbol)) + "@" + channel
}

// Room is the per-instrument broadcast group name.
func Room(symbol string) string {
	return strings.ToLower(CanonicalSymbol(symbol))
}

// SymbolSet builds a canonical lookup set.
func SymbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if c := CanonicalSymbol(s); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}
