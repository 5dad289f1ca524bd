package stocks

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/database"
	"github.com/aristath/marketd/internal/domain"
)

// IndustryRepository persists the Shenwan classification tree and the
// symbol-to-industry mappings.
type IndustryRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewIndustryRepository creates an industry repository.
func NewIndustryRepository(db *database.DB, log zerolog.Logger) *IndustryRepository {
	return &IndustryRepository{
		db:  db,
		log: log.With().Str("component", "industry_repository").Logger(),
	}
}

// UpsertIndustries writes classification nodes, updating in place on
// industry_code conflict. Rows are written parents-first so the parent_code
// reference always resolves.
func (r *IndustryRepository) UpsertIndustries(ctx context.Context, infos []domain.IndustryInfo) error {
	if len(infos) == 0 {
		return nil
	}

	ordered := make([]domain.IndustryInfo, len(infos))
	copy(ordered, infos)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for offset := 0; offset < len(ordered); offset += upsertBatchSize {
			limit := offset + upsertBatchSize
			if limit > len(ordered) {
				limit = len(ordered)
			}
			if err := upsertIndustryBatch(ctx, tx, ordered[offset:limit]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert industries: %w", err)
	}

	r.log.Debug().Int("industries", len(infos)).Msg("Industry tree upserted")
	return nil
}

func upsertIndustryBatch(ctx context.Context, tx *sql.Tx, infos []domain.IndustryInfo) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_industry (industry_code, name, level, parent_code) VALUES ")

	args := make([]interface{}, 0, len(infos)*4)
	for i, info := range infos {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, info.IndustryCode, info.Name, info.Level, info.ParentCode)
	}

	sb.WriteString(`
		ON CONFLICT(industry_code) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			parent_code = excluded.parent_code,
			last_update = CURRENT_TIMESTAMP
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch of %d rows: %w", len(infos), err)
	}
	return nil
}

// UpsertMappings writes symbol-to-industry links, updating is_main on
// (symbol, industry_code) conflict. Symbols and industry codes must already
// exist; the tables enforce both references.
func (r *IndustryRepository) UpsertMappings(ctx context.Context, mappings []domain.IndustryMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for offset := 0; offset < len(mappings); offset += upsertBatchSize {
			limit := offset + upsertBatchSize
			if limit > len(mappings) {
				limit = len(mappings)
			}
			if err := upsertMappingBatch(ctx, tx, mappings[offset:limit]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert industry mappings: %w", err)
	}

	r.log.Debug().Int("mappings", len(mappings)).Msg("Industry mappings upserted")
	return nil
}

func upsertMappingBatch(ctx context.Context, tx *sql.Tx, mappings []domain.IndustryMapping) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO stock_industry_mapping (symbol, industry_code, is_main) VALUES ")

	args := make([]interface{}, 0, len(mappings)*3)
	for i, m := range mappings {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?)")
		isMain := 0
		if m.IsMain {
			isMain = 1
		}
		args = append(args, m.Symbol, m.IndustryCode, isMain)
	}

	sb.WriteString(`
		ON CONFLICT(symbol, industry_code) DO UPDATE SET
			is_main = excluded.is_main,
			last_update = CURRENT_TIMESTAMP
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch of %d rows: %w", len(mappings), err)
	}
	return nil
}

// Tree returns all classification nodes ordered by level then code, so
// parents always precede their children.
func (r *IndustryRepository) Tree(ctx context.Context) ([]domain.IndustryInfo, error) {
	query := `
		SELECT industry_code, name, level, parent_code
		FROM stock_industry
		ORDER BY level, industry_code
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query industry tree: %w", err)
	}
	defer rows.Close()

	return scanIndustries(rows)
}

// ForSymbol returns the industries a symbol is mapped to, main mapping
// first.
func (r *IndustryRepository) ForSymbol(ctx context.Context, symbol string) ([]domain.IndustryInfo, error) {
	query := `
		SELECT i.industry_code, i.name, i.level, i.parent_code
		FROM stock_industry_mapping m
		JOIN stock_industry i ON i.industry_code = m.industry_code
		WHERE m.symbol = ?
		ORDER BY m.is_main DESC, i.industry_code
	`

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query industries for symbol: %w", err)
	}
	defer rows.Close()

	return scanIndustries(rows)
}

func scanIndustries(rows *sql.Rows) ([]domain.IndustryInfo, error) {
	var infos []domain.IndustryInfo
	for rows.Next() {
		var info domain.IndustryInfo
		var parent sql.NullString
		if err := rows.Scan(&info.IndustryCode, &info.Name, &info.Level, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan industry row: %w", err)
		}
		if parent.Valid {
			info.ParentCode = &parent.String
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating industry rows: %w", err)
	}
	return infos, nil
}
