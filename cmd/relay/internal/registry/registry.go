// Package registry holds the fixed, ordered instrument universe shown on the board.
package registry

import "github.com/aryanseth9795/stocklabs-backend/pkg/models"

type Registry struct {
	symbols []string
	index   map[string]int
}

// New canonicalizes symbols and drops duplicates, keeping first occurrence order.
func New(symbols []string) *Registry {
	r := &Registry{index: make(map[string]int, len(symbols))}
	for _, s := range symbols {
		sym := models.CanonicalSymbol(s)
		if sym == "" {
			continue
		}
		if _, dup := r.index[sym]; dup {
			continue
		}
		r.index[sym] = len(r.symbols)
		r.symbols = append(r.symbols, sym)
	}
	return r
}

func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

func (r *Registry) Contains(symbol string) bool {
	_, ok := r.index[models.CanonicalSymbol(symbol)]
	return ok
}

// Index returns the display position of symbol, or -1.
func (r *Registry) Index(symbol string) int {
	if i, ok := r.index[models.CanonicalSymbol(symbol)]; ok {
		return i
	}
	return -1
}

func (r *Registry) Len() int { return len(r.symbols) }

// OffBoard returns the symbols outside the registry, canonicalized and de-duplicated.
func (r *Registry) OffBoard(symbols []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range symbols {
		sym := models.CanonicalSymbol(s)
		if sym == "" || r.Contains(sym) {
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
