package stocks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/database"
	"github.com/aristath/marketd/internal/domain"
)

// upsertBatchSize bounds the rows per multi-row INSERT statement.
const upsertBatchSize = 1000

const stockColumns = "symbol, exchange, section, stock_type, name, listing_date, industry, total_shares, float_shares, total_market_value, float_market_value"

// StockRepository persists stock metadata in the stock_basic_info table.
// Listing dates are stored as canonical yyyy-mm-dd strings.
type StockRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStockRepository creates a stock metadata repository.
func NewStockRepository(db *database.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		db:  db,
		log: log.With().Str("component", "stock_repository").Logger(),
	}
}

// UpsertOne writes a single record, updating in place on symbol conflict.
func (r *StockRepository) UpsertOne(ctx context.Context, info domain.StockBasicInfo) error {
	return r.UpsertMany(ctx, []domain.StockBasicInfo{info})
}

// UpsertMany writes records in batches inside one transaction. Conflicts on
// symbol update the row in place.
func (r *StockRepository) UpsertMany(ctx context.Context, infos []domain.StockBasicInfo) error {
	if len(infos) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for offset := 0; offset < len(infos); offset += upsertBatchSize {
			limit := offset + upsertBatchSize
			if limit > len(infos) {
				limit = len(infos)
			}
			if err := upsertStockBatch(ctx, tx, infos[offset:limit]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert stock info: %w", err)
	}

	r.log.Debug().Int("stocks", len(infos)).Msg("Stock info upserted")
	return nil
}

func upsertStockBatch(ctx context.Context, tx *sql.Tx, infos []domain.StockBasicInfo) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_basic_info (" + stockColumns + ") VALUES ")

	args := make([]interface{}, 0, len(infos)*11)
	for i, info := range infos {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		var listingDate interface{}
		if info.ListingDate != nil {
			listingDate = domain.FormatDate(*info.ListingDate)
		}
		args = append(args,
			info.Symbol, string(info.Exchange), info.Section, info.StockType, info.Name,
			listingDate, info.Industry,
			info.TotalShares, info.FloatShares, info.TotalMarketValue, info.FloatMarketValue,
		)
	}

	sb.WriteString(`
		ON CONFLICT(symbol) DO UPDATE SET
			exchange = excluded.exchange,
			section = excluded.section,
			stock_type = excluded.stock_type,
			name = excluded.name,
			listing_date = excluded.listing_date,
			industry = excluded.industry,
			total_shares = excluded.total_shares,
			float_shares = excluded.float_shares,
			total_market_value = excluded.total_market_value,
			float_market_value = excluded.float_market_value,
			last_update = CURRENT_TIMESTAMP
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch of %d rows: %w", len(infos), err)
	}
	return nil
}

// GetBySymbol returns one record, or nil when the symbol is unknown.
func (r *StockRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.StockBasicInfo, error) {
	query := "SELECT " + stockColumns + ", last_update FROM stock_basic_info WHERE symbol = ?"

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock info: %w", err)
	}
	defer rows.Close()

	infos, err := scanStocks(rows)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

// List returns all records ordered by symbol.
func (r *StockRepository) List(ctx context.Context) ([]domain.StockBasicInfo, error) {
	query := "SELECT " + stockColumns + ", last_update FROM stock_basic_info ORDER BY symbol"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock info: %w", err)
	}
	defer rows.Close()

	return scanStocks(rows)
}

// Filter returns the records matching req, ordered by symbol. An empty
// request matches everything.
func (r *StockRepository) Filter(ctx context.Context, req FilterRequest) ([]domain.StockBasicInfo, error) {
	var clauses []string
	var args []interface{}

	addInClause := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.Repeat("?,", len(values))
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, placeholders[:len(placeholders)-1]))
		for _, v := range values {
			args = append(args, v)
		}
	}

	addInClause("exchange", req.Exchanges)
	addInClause("section", req.Sections)
	addInClause("stock_type", req.StockTypes)
	addInClause("industry", req.Industries)

	if req.StartListingDate != "" {
		clauses = append(clauses, "listing_date >= ?")
		args = append(args, req.StartListingDate)
	}
	if req.EndListingDate != "" {
		clauses = append(clauses, "listing_date <= ?")
		args = append(args, req.EndListingDate)
	}
	if req.MinMarketCap != nil {
		clauses = append(clauses, "float_market_value >= ?")
		args = append(args, *req.MinMarketCap)
	}
	if req.MaxMarketCap != nil {
		clauses = append(clauses, "float_market_value <= ?")
		args = append(args, *req.MaxMarketCap)
	}
	if req.Keyword != "" {
		clauses = append(clauses, "(symbol LIKE ? OR name LIKE ?)")
		pattern := "%" + req.Keyword + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + stockColumns + ", last_update FROM stock_basic_info"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY symbol"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter stock info: %w", err)
	}
	defer rows.Close()

	return scanStocks(rows)
}

// FilterOptions returns the distinct non-empty values of each filterable
// column, sorted.
func (r *StockRepository) FilterOptions(ctx context.Context) (FilterOptions, error) {
	opts := FilterOptions{
		Exchanges:  []string{},
		Industries: []string{},
		StockTypes: []string{},
		Sections:   []string{},
	}

	for _, q := range []struct {
		column string
		dest   *[]string
	}{
		{"exchange", &opts.Exchanges},
		{"industry", &opts.Industries},
		{"stock_type", &opts.StockTypes},
		{"section", &opts.Sections},
	} {
		query := fmt.Sprintf(
			"SELECT DISTINCT %s FROM stock_basic_info WHERE %s IS NOT NULL AND %s != '' ORDER BY %s",
			q.column, q.column, q.column, q.column,
		)
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			return FilterOptions{}, fmt.Errorf("failed to query distinct %s: %w", q.column, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return FilterOptions{}, fmt.Errorf("failed to scan distinct %s: %w", q.column, err)
			}
			*q.dest = append(*q.dest, v)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return FilterOptions{}, fmt.Errorf("error iterating distinct %s: %w", q.column, err)
		}
		rows.Close()
	}

	return opts, nil
}

// Symbols returns all stored symbols ordered ascending.
func (r *StockRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT symbol FROM stock_basic_info ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}
	return symbols, nil
}

// Count returns the number of stored records.
func (r *StockRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stock_basic_info").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stock info: %w", err)
	}
	return count, nil
}

func scanStocks(rows *sql.Rows) ([]domain.StockBasicInfo, error) {
	var infos []domain.StockBasicInfo
	for rows.Next() {
		var (
			info        domain.StockBasicInfo
			section     sql.NullString
			stockType   sql.NullString
			listingDate sql.NullString
			industry    sql.NullString
			totalShares sql.NullFloat64
			floatShares sql.NullFloat64
			totalMV     sql.NullFloat64
			floatMV     sql.NullFloat64
			lastUpdate  sql.NullTime
		)

		err := rows.Scan(
			&info.Symbol, &info.Exchange, &section, &stockType, &info.Name,
			&listingDate, &industry,
			&totalShares, &floatShares, &totalMV, &floatMV,
			&lastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}

		info.Section = section.String
		info.StockType = stockType.String
		if listingDate.Valid && listingDate.String != "" {
			date, err := domain.ParseDate(listingDate.String)
			if err != nil {
				return nil, fmt.Errorf("stored listing date %q is not canonical: %w", listingDate.String, err)
			}
			info.ListingDate = &date
		}
		if industry.Valid && industry.String != "" {
			info.Industry = &industry.String
		}
		if totalShares.Valid {
			info.TotalShares = &totalShares.Float64
		}
		if floatShares.Valid {
			info.FloatShares = &floatShares.Float64
		}
		if totalMV.Valid {
			info.TotalMarketValue = &totalMV.Float64
		}
		if floatMV.Valid {
			info.FloatMarketValue = &floatMV.Float64
		}
		// The TIMESTAMP decltype makes the driver hand back time.Time.
		if lastUpdate.Valid {
			info.LastUpdate = lastUpdate.Time
		}

		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock rows: %w", err)
	}
	return infos, nil
}
