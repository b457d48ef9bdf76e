// Package ledger is the relay's view of the paper-trading ledger: holdings
// for the watch-list and short-position settlement for the auto-cut job.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrPositionNotOpen = errors.New("short position is not open")
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusAutoCut Status = "auto_cut"
)

const AssetCrypto = "crypto"

type ShortPosition struct {
	ID         string
	UserID     string
	AssetType  string
	Symbol     string
	Name       string
	EntryPrice float64
	Quantity   float64
	TotalValue float64 // margin held at open
	Status     Status
	OpenedAt   time.Time
}

// Settlement is the outcome of covering a short at ExitPrice.
type Settlement struct {
	ExitPrice    decimal.Decimal
	ProfitLoss   decimal.Decimal
	ReturnAmount decimal.Decimal
}

// Settle computes P&L = (entry - exit) * qty and the amount returned to the
// user, margin + P&L.
func Settle(pos ShortPosition, exitPrice float64) Settlement {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(pos.Quantity)
	pl := entry.Sub(exit).Mul(qty)
	return Settlement{
		ExitPrice:    exit,
		ProfitLoss:   pl,
		ReturnAmount: decimal.NewFromFloat(pos.TotalValue).Add(pl),
	}
}

// Describe renders the order description written with a settlement.
func (s Settlement) Describe(pos ShortPosition, status Status) string {
	prefix := "[Short-Cover]"
	if status == StatusAutoCut {
		prefix = "[Auto-Cut]"
	}
	return fmt.Sprintf("%s %s %s @ ₹%s | P&L: ₹%s",
		prefix, decimal.NewFromFloat(pos.Quantity).String(), pos.Name,
		s.ExitPrice.StringFixed(2), s.ProfitLoss.StringFixed(2))
}

// Holdings resolves the symbols a user currently holds.
type Holdings interface {
	HeldSymbols(ctx context.Context, identity string) ([]string, error)
}

type Store interface {
	Holdings
	OpenShortPositions(ctx context.Context) ([]ShortPosition, error)
	SettleShort(ctx context.Context, pos ShortPosition, exitPrice float64, status Status) (Settlement, error)
}

// EmptyHoldings serves the relay when no ledger database is configured.
type EmptyHoldings struct{}

func (EmptyHoldings) HeldSymbols(context.Context, string) ([]string, error) { return nil, nil }

func decimalFrom(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
