package daily

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
	testingpkg "github.com/aristath/marketd/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanup)
	return NewRepository(db, zerolog.Nop())
}

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRepository_UpsertMany_StoresCanonicalDateText(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	bars := []domain.DailyBar{
		{
			Symbol: "600000", TradeDate: day("2024-01-02"),
			Open: 7.13, Close: 7.15, High: 7.20, Low: 7.08, Volume: 29589300,
		},
	}
	require.NoError(t, repo.UpsertMany(ctx, bars))

	// The column must read back the exact bytes written: a decltype the
	// driver maps to time.Time would surface here as an RFC3339 string.
	var raw string
	err := repo.db.QueryRowContext(ctx,
		"SELECT trade_date FROM stock_daily_data WHERE symbol = ?", "600000",
	).Scan(&raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", raw)
}

func TestRepository_UpsertMany_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	turnover := 211364000.5
	bars := []domain.DailyBar{
		{
			Symbol: "600000", TradeDate: day("2024-01-02"),
			Open: 7.13, Close: 7.15, High: 7.20, Low: 7.08, Volume: 29589300,
			Turnover: &turnover,
		},
		{
			Symbol: "600000", TradeDate: day("2024-01-03"),
			Open: 7.15, Close: 7.10, High: 7.18, Low: 7.05, Volume: 30144200,
		},
	}
	require.NoError(t, repo.UpsertMany(ctx, bars))

	got, err := repo.Range(ctx, "600000", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2024-01-02", got[0].DateKey())
	assert.Equal(t, 7.15, got[0].Close)
	require.NotNil(t, got[0].Turnover)
	assert.Equal(t, turnover, *got[0].Turnover)

	// Optional columns without values stay nil after the round trip.
	assert.Nil(t, got[1].Turnover)
	assert.Nil(t, got[1].TurnoverRate)
}

func TestRepository_UpsertMany_ConflictUpdates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	bar := domain.DailyBar{
		Symbol: "600000", TradeDate: day("2024-01-02"),
		Open: 7.13, Close: 7.15, High: 7.20, Low: 7.08, Volume: 100,
	}
	require.NoError(t, repo.UpsertMany(ctx, []domain.DailyBar{bar}))

	bar.Close = 7.18
	bar.Volume = 200
	require.NoError(t, repo.UpsertMany(ctx, []domain.DailyBar{bar}))

	got, err := repo.Range(ctx, "600000", day("2024-01-02"), day("2024-01-02"))
	require.NoError(t, err)
	require.Len(t, got, 1, "conflict must update, not insert")
	assert.Equal(t, 7.18, got[0].Close)
	assert.Equal(t, int64(200), got[0].Volume)
}

func TestRepository_UpsertMany_CrossesBatchBoundary(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	bars := testingpkg.NewBarFixtures("600000", day("2023-01-01"), day("2027-06-30"))
	require.Greater(t, len(bars), upsertBatchSize, "fixture must span more than one batch")

	require.NoError(t, repo.UpsertMany(ctx, bars))

	count, err := repo.CountForSymbol(ctx, "600000")
	require.NoError(t, err)
	assert.Equal(t, int64(len(bars)), count)
}

func TestRepository_Range_FiltersSymbolAndDates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertMany(ctx, testingpkg.NewBarFixtures("600000", day("2024-01-02"), day("2024-01-12"))))
	require.NoError(t, repo.UpsertMany(ctx, testingpkg.NewBarFixtures("000001", day("2024-01-02"), day("2024-01-12"))))

	got, err := repo.Range(ctx, "600000", day("2024-01-03"), day("2024-01-05"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, bar := range got {
		assert.Equal(t, "600000", bar.Symbol)
	}
	assert.Equal(t, "2024-01-03", got[0].DateKey())
	assert.Equal(t, "2024-01-05", got[2].DateKey())
}

func TestRepository_Dates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertMany(ctx, testingpkg.NewBarFixtures("600000", day("2024-01-02"), day("2024-01-05"))))

	dates, err := repo.Dates(ctx, "600000", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, dates, 4)
	assert.Equal(t, "2024-01-02", domain.FormatDate(dates[0]))
	assert.Equal(t, "2024-01-05", domain.FormatDate(dates[3]))
}

func TestRepository_Latest(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.Latest(ctx, "600000")
	require.NoError(t, err)
	assert.Nil(t, got, "no bars yet")

	require.NoError(t, repo.UpsertMany(ctx, testingpkg.NewBarFixtures("600000", day("2024-01-02"), day("2024-01-12"))))

	got, err = repo.Latest(ctx, "600000")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-01-12", got.DateKey())
}

func TestRepository_CountForSymbol_Empty(t *testing.T) {
	repo := newTestRepository(t)

	count, err := repo.CountForSymbol(context.Background(), "600000")
	require.NoError(t, err)
	assert.Zero(t, count)
}
