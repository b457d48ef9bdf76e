package ledger

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore reads holdings and settles shorts against the ledger database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a pool for dsn and pings it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql config: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "stocklabs-relay"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgresql pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgresql: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

const heldSymbolsQuery = `
SELECT DISTINCT upper(ps.stock_symbol)
FROM portfolio_stocks ps
JOIN portfolios p ON p.id = ps.portfolio_id
WHERE p.user_id = $1 AND ps.stock_quantity > 0
ORDER BY 1`

func (s *PostgresStore) HeldSymbols(ctx context.Context, identity string) ([]string, error) {
	rows, err := s.pool.Query(ctx, heldSymbolsQuery, identity)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan holdings: %w", err)
	}
	return symbols, nil
}

const openShortsQuery = `
SELECT id, user_id, asset_type, stock_symbol, stock_name,
       entry_price, quantity, total_value, status, opened_at
FROM short_positions
WHERE status = 'open'
ORDER BY opened_at`

func (s *PostgresStore) OpenShortPositions(ctx context.Context) ([]ShortPosition, error) {
	rows, err := s.pool.Query(ctx, openShortsQuery)
	if err != nil {
		return nil, fmt.Errorf("query open shorts: %w", err)
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ShortPosition, error) {
		var p ShortPosition
		var status string
		err := row.Scan(&p.ID, &p.UserID, &p.AssetType, &p.Symbol, &p.Name,
			&p.EntryPrice, &p.Quantity, &p.TotalValue, &status, &p.OpenedAt)
		p.Status = Status(status)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan open shorts: %w", err)
	}
	return positions, nil
}

// SettleShort credits margin + P&L to the user, closes the position and
// records the credit transaction and cover order, all in one transaction.
func (s *PostgresStore) SettleShort(ctx context.Context, pos ShortPosition, exitPrice float64, status Status) (Settlement, error) {
	st := Settle(pos, exitPrice)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var opening float64
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, pos.UserID).Scan(&opening)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, fmt.Errorf("%w: %s", ErrUserNotFound, pos.UserID)
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("lock user: %w", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE short_positions
SET status = $2, exit_price = $3, profit_loss = $4, closed_at = $5
WHERE id = $1 AND status = 'open'`,
		pos.ID, string(status), st.ExitPrice.InexactFloat64(), st.ProfitLoss.InexactFloat64(), time.Now())
	if err != nil {
		return Settlement{}, fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Settlement{}, fmt.Errorf("%w: %s", ErrPositionNotOpen, pos.ID)
	}

	closing := st.ReturnAmount.Add(decimalFrom(opening))
	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, pos.UserID, closing.InexactFloat64()); err != nil {
		return Settlement{}, fmt.Errorf("credit balance: %w", err)
	}

	txID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
INSERT INTO transactions (id, user_id, opening_balance, closing_balance, used_balance, type, status)
VALUES ($1, $2, $3, $4, $5, 'Credit', 'completed')`,
		txID, pos.UserID, opening, closing.InexactFloat64(), st.ReturnAmount.Abs().InexactFloat64()); err != nil {
		return Settlement{}, fmt.Errorf("insert transaction: %w", err)
	}

	total := st.ExitPrice.Mul(decimalFrom(pos.Quantity))
	if _, err := tx.Exec(ctx, `
INSERT INTO orders (id, user_id, transaction_id, stock_symbol, stock_name, stock_price,
                    stock_quantity, stock_total, status, type, order_mode, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'completed', 'buy', 'short_cover', $9)`,
		uuid.NewString(), pos.UserID, txID, pos.Symbol, pos.Name, st.ExitPrice.InexactFloat64(),
		pos.Quantity, total.InexactFloat64(), st.Describe(pos, status)); err != nil {
		return Settlement{}, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Settlement{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return st, nil
}
