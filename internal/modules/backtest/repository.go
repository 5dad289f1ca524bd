package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/database"
	"github.com/aristath/marketd/internal/domain"
)

// Repository persists backtest runs in the backtest_stats table. The bulky
// series (trades, equity curve, chart data, strategies) are stored as JSON
// text columns and only hydrated by GetByID.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a backtest repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "backtest_repository").Logger(),
	}
}

// Insert writes one completed run.
func (r *Repository) Insert(ctx context.Context, result *Result) error {
	equityJSON, err := json.Marshal(result.EquityCurve)
	if err != nil {
		return fmt.Errorf("failed to encode equity curve: %w", err)
	}
	tradesJSON, err := json.Marshal(result.Trades)
	if err != nil {
		return fmt.Errorf("failed to encode trades: %w", err)
	}
	strategiesJSON, err := json.Marshal(result.Strategies)
	if err != nil {
		return fmt.Errorf("failed to encode strategies: %w", err)
	}
	chartJSON, err := json.Marshal(result.ChartData)
	if err != nil {
		return fmt.Errorf("failed to encode chart data: %w", err)
	}

	query := `
		INSERT INTO backtest_stats (
			id, stock_code, stock_name, start_date, end_date, duration_seconds,
			initial_capital, final_capital, total_return, annualized_return,
			max_drawdown, sharpe_ratio, win_rate, trade_count,
			equity_curve, trades, strategies, chart_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		result.ID, result.StockCode, result.StockName,
		domain.FormatDate(result.StartDate), domain.FormatDate(result.EndDate),
		result.DurationSeconds,
		result.Stats.InitialCapital, result.Stats.FinalCapital,
		result.Stats.TotalReturn, result.Stats.AnnualizedReturn,
		result.Stats.MaxDrawdown, result.Stats.SharpeRatio,
		result.Stats.WinRate, result.Stats.TradeCount,
		string(equityJSON), string(tradesJSON), string(strategiesJSON), string(chartJSON),
		result.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}

	r.log.Debug().Str("id", result.ID).Str("symbol", result.StockCode).Msg("Backtest result stored")
	return nil
}

// GetByID returns one run with its full series hydrated.
func (r *Repository) GetByID(ctx context.Context, id string) (*Result, error) {
	query := `
		SELECT id, stock_code, stock_name, start_date, end_date, duration_seconds,
			initial_capital, final_capital, total_return, annualized_return,
			max_drawdown, sharpe_ratio, win_rate, trade_count,
			equity_curve, trades, strategies, chart_data, created_at
		FROM backtest_stats
		WHERE id = ?
	`

	var result Result
	var rawStart, rawEnd, rawCreated string
	var equityJSON, tradesJSON, strategiesJSON, chartJSON sql.NullString
	var annualized, maxDD, sharpeRatio, winRate sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.StockCode, &result.StockName,
		&rawStart, &rawEnd, &result.DurationSeconds,
		&result.Stats.InitialCapital, &result.Stats.FinalCapital,
		&result.Stats.TotalReturn, &annualized,
		&maxDD, &sharpeRatio, &winRate, &result.Stats.TradeCount,
		&equityJSON, &tradesJSON, &strategiesJSON, &chartJSON,
		&rawCreated,
	)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("backtest %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest result: %w", err)
	}

	if result.StartDate, err = domain.ParseDate(rawStart); err != nil {
		return nil, fmt.Errorf("stored start date %q is not canonical: %w", rawStart, err)
	}
	if result.EndDate, err = domain.ParseDate(rawEnd); err != nil {
		return nil, fmt.Errorf("stored end date %q is not canonical: %w", rawEnd, err)
	}
	result.CreatedAt = parseTimestamp(rawCreated)
	result.Stats.AnnualizedReturn = annualized.Float64
	result.Stats.MaxDrawdown = maxDD.Float64
	result.Stats.SharpeRatio = sharpeRatio.Float64
	result.Stats.WinRate = winRate.Float64

	if err := decodeColumn(equityJSON, &result.EquityCurve); err != nil {
		return nil, fmt.Errorf("failed to decode equity curve: %w", err)
	}
	if err := decodeColumn(tradesJSON, &result.Trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	if err := decodeColumn(strategiesJSON, &result.Strategies); err != nil {
		return nil, fmt.Errorf("failed to decode strategies: %w", err)
	}
	if err := decodeColumn(chartJSON, &result.ChartData); err != nil {
		return nil, fmt.Errorf("failed to decode chart data: %w", err)
	}

	return &result, nil
}

// ListPaged returns result summaries newest first, optionally filtered by a
// keyword matched against the stock code or name.
func (r *Repository) ListPaged(ctx context.Context, page, pageSize int, keyword string) (domain.PaginatedResult[Summary], error) {
	var zero domain.PaginatedResult[Summary]

	where := ""
	var args []interface{}
	if keyword != "" {
		where = "WHERE stock_code LIKE ? OR stock_name LIKE ?"
		pattern := "%" + keyword + "%"
		args = append(args, pattern, pattern)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM backtest_stats "+where, args...,
	).Scan(&total); err != nil {
		return zero, fmt.Errorf("failed to count backtest results: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, stock_code, stock_name, start_date, end_date,
			total_return, trade_count, created_at
		FROM backtest_stats
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return zero, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var rawStart, rawEnd, rawCreated string
		if err := rows.Scan(
			&s.ID, &s.StockCode, &s.StockName,
			&rawStart, &rawEnd, &s.TotalReturn, &s.TradeCount, &rawCreated,
		); err != nil {
			return zero, fmt.Errorf("failed to scan backtest summary: %w", err)
		}
		if s.StartDate, err = domain.ParseDate(rawStart); err != nil {
			return zero, fmt.Errorf("stored start date %q is not canonical: %w", rawStart, err)
		}
		if s.EndDate, err = domain.ParseDate(rawEnd); err != nil {
			return zero, fmt.Errorf("stored end date %q is not canonical: %w", rawEnd, err)
		}
		s.CreatedAt = parseTimestamp(rawCreated)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return zero, fmt.Errorf("error iterating backtest summaries: %w", err)
	}

	return domain.NewPaginatedResult(summaries, total, page, pageSize), nil
}

func decodeColumn(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

// parseTimestamp accepts both RFC3339 values written by Insert and the
// CURRENT_TIMESTAMP default layout.
func parseTimestamp(raw string) time.Time {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	ts, _ := time.Parse("2006-01-02 15:04:05", raw)
	return ts
}
