package stocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
	testingpkg "github.com/aristath/marketd/internal/testing"
)

type fakeMetadataSource struct {
	mu sync.Mutex

	listings map[domain.Exchange][]domain.ExchangeSymbol
	enumErr  map[domain.Exchange]error

	infos   map[string]*domain.StockBasicInfo
	infoErr map[string]error

	tree    []domain.IndustryInfo
	treeErr error

	cons    map[string][]domain.IndustryMapping
	consErr map[string]error

	infoCalls []string
	consCalls []string
}

func (f *fakeMetadataSource) GetExchangeSymbols(_ context.Context, exchange domain.Exchange, _ ...fetcher.CallOption) ([]domain.ExchangeSymbol, error) {
	if err := f.enumErr[exchange]; err != nil {
		return nil, err
	}
	return f.listings[exchange], nil
}

func (f *fakeMetadataSource) GetStockBasicInfo(_ context.Context, _ domain.Exchange, symbol string, _ ...fetcher.CallOption) (*domain.StockBasicInfo, error) {
	f.mu.Lock()
	f.infoCalls = append(f.infoCalls, symbol)
	f.mu.Unlock()

	if err := f.infoErr[symbol]; err != nil {
		return nil, err
	}
	return f.infos[symbol], nil
}

func (f *fakeMetadataSource) FetchIndustryInfo(_ context.Context, _ ...fetcher.CallOption) ([]domain.IndustryInfo, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.tree, nil
}

func (f *fakeMetadataSource) FetchIndustryCons(_ context.Context, industryCode string, _ ...fetcher.CallOption) ([]domain.IndustryMapping, error) {
	f.mu.Lock()
	f.consCalls = append(f.consCalls, industryCode)
	f.mu.Unlock()

	if err := f.consErr[industryCode]; err != nil {
		return nil, err
	}
	return f.cons[industryCode], nil
}

func (f *fakeMetadataSource) sortedInfoCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.infoCalls...)
	sort.Strings(out)
	return out
}

type fakeDailyRefresher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeDailyRefresher) RefreshToday(_ context.Context, stock *domain.StockBasicInfo) error {
	f.mu.Lock()
	f.calls = append(f.calls, stock.Symbol)
	f.mu.Unlock()
	return f.fail[stock.Symbol]
}

func newTestSyncService(t *testing.T, source *fakeMetadataSource, daily *fakeDailyRefresher) (*SyncService, *StockRepository, *IndustryRepository) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	stockRepo := NewStockRepository(db, zerolog.Nop())
	industryRepo := NewIndustryRepository(db, zerolog.Nop())
	svc := NewSyncService(stockRepo, industryRepo, source, daily, zerolog.Nop())
	return svc, stockRepo, industryRepo
}

func listing(exchange domain.Exchange, symbol, name, section, stockType string) domain.ExchangeSymbol {
	return domain.ExchangeSymbol{
		Exchange:  exchange,
		Symbol:    symbol,
		Name:      name,
		Section:   section,
		StockType: stockType,
	}
}

func detail(exchange domain.Exchange, symbol, name string) *domain.StockBasicInfo {
	return &domain.StockBasicInfo{
		Symbol:   symbol,
		Exchange: exchange,
		Name:     name,
	}
}

func TestSyncService_RefreshBasicInfo_UpsertsAllListings(t *testing.T) {
	source := &fakeMetadataSource{
		listings: map[domain.Exchange][]domain.ExchangeSymbol{
			domain.ExchangeSH: {
				listing(domain.ExchangeSH, "600000", "浦发银行", "沪市主板", "A股"),
				listing(domain.ExchangeSH, "688981", "中芯国际", "科创板", "A股"),
			},
			domain.ExchangeSZ: {
				listing(domain.ExchangeSZ, "000001", "平安银行", "主板", "A股"),
			},
		},
		infos: map[string]*domain.StockBasicInfo{
			"600000": detail(domain.ExchangeSH, "600000", "浦发银行"),
			"688981": detail(domain.ExchangeSH, "688981", "中芯国际"),
			"000001": detail(domain.ExchangeSZ, "000001", "平安银行"),
		},
	}
	svc, stockRepo, _ := newTestSyncService(t, source, nil)

	processed, failed, err := svc.RefreshBasicInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"000001", "600000", "688981"}, source.sortedInfoCalls())

	got, err := stockRepo.GetBySymbol(context.Background(), "688981")
	require.NoError(t, err)
	require.NotNil(t, got)
	// Board and share class come from the enumeration, not the detail.
	assert.Equal(t, "科创板", got.Section)
	assert.Equal(t, "A股", got.StockType)
}

func TestSyncService_RefreshBasicInfo_SkipsNilAndCountsFailures(t *testing.T) {
	source := &fakeMetadataSource{
		listings: map[domain.Exchange][]domain.ExchangeSymbol{
			domain.ExchangeSH: {
				listing(domain.ExchangeSH, "600000", "浦发银行", "沪市主板", "A股"),
				listing(domain.ExchangeSH, "600001", "退市股", "沪市主板", "A股"),
				listing(domain.ExchangeSH, "600002", "故障股", "沪市主板", "A股"),
			},
		},
		infos: map[string]*domain.StockBasicInfo{
			"600000": detail(domain.ExchangeSH, "600000", "浦发银行"),
			// 600001 resolves to nil: delisted upstream.
		},
		infoErr: map[string]error{
			"600002": errors.New("upstream 500"),
		},
	}
	svc, stockRepo, _ := newTestSyncService(t, source, nil)

	processed, failed, err := svc.RefreshBasicInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)

	count, err := stockRepo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncService_RefreshBasicInfo_EnumerationFailureIsPartial(t *testing.T) {
	source := &fakeMetadataSource{
		listings: map[domain.Exchange][]domain.ExchangeSymbol{
			domain.ExchangeSZ: {
				listing(domain.ExchangeSZ, "000001", "平安银行", "主板", "A股"),
			},
		},
		enumErr: map[domain.Exchange]error{
			domain.ExchangeSH: errors.New("listing feed down"),
		},
		infos: map[string]*domain.StockBasicInfo{
			"000001": detail(domain.ExchangeSZ, "000001", "平安银行"),
		},
	}
	svc, _, _ := newTestSyncService(t, source, nil)

	processed, failed, err := svc.RefreshBasicInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)
}

func TestSyncService_RefreshBasicInfo_AllEnumerationsFail(t *testing.T) {
	source := &fakeMetadataSource{
		enumErr: map[domain.Exchange]error{
			domain.ExchangeSH: errors.New("down"),
			domain.ExchangeSZ: errors.New("down"),
			domain.ExchangeBJ: errors.New("down"),
		},
	}
	svc, _, _ := newTestSyncService(t, source, nil)

	_, _, err := svc.RefreshBasicInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enumerate exchanges")
}

func TestSyncService_RefreshIndustries_FiltersUnknownSymbols(t *testing.T) {
	source := &fakeMetadataSource{
		tree: industryFixtures(),
		cons: map[string][]domain.IndustryMapping{
			"801782": {
				{Symbol: "600000", IndustryCode: "801782", IsMain: true},
				{Symbol: "999999", IndustryCode: "801782", IsMain: true},
			},
			"801783": {
				{Symbol: "000001", IndustryCode: "801783", IsMain: true},
			},
		},
	}
	svc, stockRepo, industryRepo := newTestSyncService(t, source, nil)
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	require.NoError(t, svc.RefreshIndustries(context.Background()))

	// Only the leaf industries have constituents.
	sort.Strings(source.consCalls)
	assert.Equal(t, []string{"801782", "801783"}, source.consCalls)

	tree, err := industryRepo.Tree(context.Background())
	require.NoError(t, err)
	assert.Len(t, tree, 4)

	got, err := industryRepo.ForSymbol(context.Background(), "600000")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "801782", got[0].IndustryCode)

	// The unknown constituent was dropped rather than failing the run.
	got, err = industryRepo.ForSymbol(context.Background(), "999999")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncService_RefreshIndustries_ConstituentFailureSkipsIndustry(t *testing.T) {
	source := &fakeMetadataSource{
		tree: industryFixtures(),
		cons: map[string][]domain.IndustryMapping{
			"801783": {
				{Symbol: "000001", IndustryCode: "801783", IsMain: true},
			},
		},
		consErr: map[string]error{
			"801782": errors.New("constituent feed down"),
		},
	}
	svc, stockRepo, industryRepo := newTestSyncService(t, source, nil)
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	require.NoError(t, svc.RefreshIndustries(context.Background()))

	got, err := industryRepo.ForSymbol(context.Background(), "000001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "801783", got[0].IndustryCode)
}

func TestSyncService_RefreshIndustries_TreeFailure(t *testing.T) {
	source := &fakeMetadataSource{treeErr: errors.New("tree feed down")}
	svc, _, _ := newTestSyncService(t, source, nil)

	err := svc.RefreshIndustries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch industry tree")
}

func TestSyncService_RefreshDailyBars_CountsFailures(t *testing.T) {
	daily := &fakeDailyRefresher{
		fail: map[string]error{"000001": errors.New("no provider")},
	}
	svc, stockRepo, _ := newTestSyncService(t, &fakeMetadataSource{}, daily)
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	processed, failed, err := svc.RefreshDailyBars(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, failed)

	sort.Strings(daily.calls)
	assert.Equal(t, []string{"000001", "600000", "688981"}, daily.calls)
}

func TestSyncService_RefreshDailyBars_EmptyTable(t *testing.T) {
	daily := &fakeDailyRefresher{}
	svc, _, _ := newTestSyncService(t, &fakeMetadataSource{}, daily)

	processed, failed, err := svc.RefreshDailyBars(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, failed)
	assert.Empty(t, daily.calls)
}
