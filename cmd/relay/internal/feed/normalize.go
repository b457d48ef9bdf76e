package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aryanseth9795/stocklabs-backend/pkg/models"
)

// RateSource supplies the USD to display-currency multiplier.
type RateSource interface {
	Rate() float64
}

type Normalizer struct {
	rates RateSource
	now   func() time.Time
}

func NewNormalizer(rates RateSource) *Normalizer {
	return &Normalizer{rates: rates, now: time.Now}
}

// Normalize turns a provider ticker into a Tick stamped with the capture time.
func (n *Normalizer) Normalize(ev TickerEvent) models.Tick {
	rate := decimal.NewFromFloat(n.rates.Rate())
	return models.Tick{
		Symbol:          models.CanonicalSymbol(ev.Symbol),
		Price:           ev.LastPrice,
		PriceConverted:  Convert(ev.LastPrice, rate),
		Change:          ev.PriceChange,
		ChangeConverted: Convert(ev.PriceChange, rate),
		PercentChange:   ev.PercentChange,
		Timestamp:       n.now().UnixMilli(),
	}
}

// Convert multiplies v by rate and rounds half away from zero to 2 decimals.
func Convert(v float64, rate decimal.Decimal) float64 {
	return decimal.NewFromFloat(v).Mul(rate).Round(2).InexactFloat64()
}
