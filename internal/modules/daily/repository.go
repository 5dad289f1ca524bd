// Package daily serves per-symbol daily bars from a persistent cache,
// fetching missing trading-day ranges through the provider router.
package daily

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/database"
	"github.com/aristath/marketd/internal/domain"
)

// upsertBatchSize bounds the rows per multi-row INSERT statement.
const upsertBatchSize = 1000

const barColumns = "symbol, trade_date, open, close, high, low, volume, turnover, amplitude, change_rate, change_amount, turnover_rate"

// Repository persists daily bars in the stock_daily_data table. Trade dates
// are stored as canonical yyyy-mm-dd strings, so range predicates compare
// lexicographically.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a daily-bar repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "daily_repository").Logger(),
	}
}

// Range returns the cached bars for symbol within [start, end], ascending
// by trade date.
func (r *Repository) Range(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM stock_daily_data
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, symbol, domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Dates returns only the cached trade dates for symbol within [start, end],
// ascending.
func (r *Repository) Dates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT trade_date
		FROM stock_daily_data
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, symbol, domain.FormatDate(start), domain.FormatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query trade dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan trade date: %w", err)
		}
		date, err := domain.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("stored trade date %q is not canonical: %w", raw, err)
		}
		dates = append(dates, date)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade dates: %w", err)
	}
	return dates, nil
}

// UpsertMany writes bars in batches inside one transaction. Conflicts on
// (symbol, trade_date) update the row in place.
func (r *Repository) UpsertMany(ctx context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for offset := 0; offset < len(bars); offset += upsertBatchSize {
			limit := offset + upsertBatchSize
			if limit > len(bars) {
				limit = len(bars)
			}
			if err := upsertBatch(ctx, tx, bars[offset:limit]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert daily bars: %w", err)
	}

	r.log.Debug().Int("bars", len(bars)).Str("symbol", bars[0].Symbol).Msg("Daily bars upserted")
	return nil
}

func upsertBatch(ctx context.Context, tx *sql.Tx, bars []domain.DailyBar) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_daily_data (" + barColumns + ") VALUES ")

	args := make([]interface{}, 0, len(bars)*12)
	for i, bar := range bars {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			bar.Symbol, bar.DateKey(),
			bar.Open, bar.Close, bar.High, bar.Low, bar.Volume,
			bar.Turnover, bar.Amplitude, bar.ChangeRate, bar.ChangeAmount, bar.TurnoverRate,
		)
	}

	sb.WriteString(`
		ON CONFLICT(symbol, trade_date) DO UPDATE SET
			open = excluded.open,
			close = excluded.close,
			high = excluded.high,
			low = excluded.low,
			volume = excluded.volume,
			turnover = excluded.turnover,
			amplitude = excluded.amplitude,
			change_rate = excluded.change_rate,
			change_amount = excluded.change_amount,
			turnover_rate = excluded.turnover_rate,
			last_update = CURRENT_TIMESTAMP
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch of %d rows: %w", len(bars), err)
	}
	return nil
}

// CountForSymbol returns the number of cached bars for symbol.
func (r *Repository) CountForSymbol(ctx context.Context, symbol string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_daily_data WHERE symbol = ?", symbol,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily bars: %w", err)
	}
	return count, nil
}

// Latest returns the most recent cached bar for symbol, or nil when the
// symbol has no bars.
func (r *Repository) Latest(ctx context.Context, symbol string) (*domain.DailyBar, error) {
	query := `
		SELECT ` + barColumns + `
		FROM stock_daily_data
		WHERE symbol = ?
		ORDER BY trade_date DESC
		LIMIT 1
	`

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bar: %w", err)
	}
	defer rows.Close()

	bars, err := scanBars(rows)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	return &bars[0], nil
}

func scanBars(rows *sql.Rows) ([]domain.DailyBar, error) {
	var bars []domain.DailyBar
	for rows.Next() {
		var bar domain.DailyBar
		var rawDate string
		var turnover, amplitude, changeRate, changeAmount, turnoverRate sql.NullFloat64

		err := rows.Scan(
			&bar.Symbol, &rawDate,
			&bar.Open, &bar.Close, &bar.High, &bar.Low, &bar.Volume,
			&turnover, &amplitude, &changeRate, &changeAmount, &turnoverRate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}

		date, err := domain.ParseDate(rawDate)
		if err != nil {
			return nil, fmt.Errorf("stored trade date %q is not canonical: %w", rawDate, err)
		}
		bar.TradeDate = date

		if turnover.Valid {
			bar.Turnover = &turnover.Float64
		}
		if amplitude.Valid {
			bar.Amplitude = &amplitude.Float64
		}
		if changeRate.Valid {
			bar.ChangeRate = &changeRate.Float64
		}
		if changeAmount.Valid {
			bar.ChangeAmount = &changeAmount.Float64
		}
		if turnoverRate.Valid {
			bar.TurnoverRate = &turnoverRate.Float64
		}

		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}
	return bars, nil
}
