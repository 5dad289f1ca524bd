package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/modules/stocks"
	testingpkg "github.com/aristath/marketd/internal/testing"
)

type fakeDailyProvider struct {
	bars  []domain.DailyBar
	err   error
	start time.Time
	end   time.Time
}

func (f *fakeDailyProvider) GetDaily(_ context.Context, _ *domain.StockBasicInfo, start, end time.Time) ([]domain.DailyBar, error) {
	f.start, f.end = start, end
	return f.bars, f.err
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, daily *fakeDailyProvider) (chi.Router, *stocks.StockRepository, *stocks.IndustryRepository) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	stockRepo := stocks.NewStockRepository(db, zerolog.Nop())
	industryRepo := stocks.NewIndustryRepository(db, zerolog.Nop())
	service := stocks.NewService(stockRepo, industryRepo, zerolog.Nop())

	h := NewStockHandlers(service, daily, zerolog.Nop())
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router, stockRepo, industryRepo
}

func doRequest(t *testing.T, router chi.Router, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func TestStockHandlers_ListStocks(t *testing.T) {
	router, stockRepo, _ := newTestRouter(t, &fakeDailyProvider{})
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "ok", env.Message)

	var infos []domain.StockBasicInfo
	require.NoError(t, json.Unmarshal(env.Data, &infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "000001", infos[0].Symbol)
}

func TestStockHandlers_ListStocks_EmptyIsArray(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeDailyProvider{})

	rec, env := doRequest(t, router, http.MethodGet, "/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestStockHandlers_FilterStocks(t *testing.T) {
	router, stockRepo, _ := newTestRouter(t, &fakeDailyProvider{})
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodPost, "/stocks/filter", `{"exchange":["SZ"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)

	var infos []domain.StockBasicInfo
	require.NoError(t, json.Unmarshal(env.Data, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "000001", infos[0].Symbol)
}

func TestStockHandlers_FilterStocks_MalformedBody(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeDailyProvider{})

	rec, env := doRequest(t, router, http.MethodPost, "/stocks/filter", "not json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.Code)
	assert.Contains(t, env.Message, "invalid filter request")
}

func TestStockHandlers_FilterStocks_UnknownExchange(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeDailyProvider{})

	rec, env := doRequest(t, router, http.MethodPost, "/stocks/filter", `{"exchange":["NYSE"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "NYSE")
}

func TestStockHandlers_FilterOptions_KeysAreCamelCase(t *testing.T) {
	router, stockRepo, _ := newTestRouter(t, &fakeDailyProvider{})
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/filter-options", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.Contains(t, raw, "exchanges")
	assert.Contains(t, raw, "industries")
	assert.Contains(t, raw, "stockTypes")
	assert.Contains(t, raw, "sections")

	var exchanges []string
	require.NoError(t, json.Unmarshal(raw["exchanges"], &exchanges))
	assert.Equal(t, []string{"SH", "SZ"}, exchanges)
}

func TestStockHandlers_IndustryTree(t *testing.T) {
	router, _, industryRepo := newTestRouter(t, &fakeDailyProvider{})

	parent := "801780"
	require.NoError(t, industryRepo.UpsertIndustries(context.Background(), []domain.IndustryInfo{
		{IndustryCode: "801780", Name: "银行", Level: 1},
		{IndustryCode: "801781", Name: "国有大型银行", Level: 2, ParentCode: &parent},
	}))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/industries", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tree []domain.IndustryInfo
	require.NoError(t, json.Unmarshal(env.Data, &tree))
	require.Len(t, tree, 2)
	assert.Equal(t, "801780", tree[0].IndustryCode)
	assert.Equal(t, 1, tree[0].Level)
}

func TestStockHandlers_StockDaily(t *testing.T) {
	daily := &fakeDailyProvider{
		bars: testingpkg.NewBarFixtures("600000",
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)),
	}
	router, stockRepo, _ := newTestRouter(t, daily)
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/600000/daily?start=2024-01-02&end=2024-01-03", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Code)

	var bars []domain.DailyBar
	require.NoError(t, json.Unmarshal(env.Data, &bars))
	assert.Len(t, bars, 2)

	assert.Equal(t, "2024-01-02", domain.FormatDate(daily.start))
	assert.Equal(t, "2024-01-03", domain.FormatDate(daily.end))
}

func TestStockHandlers_StockDaily_UnknownSymbol(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeDailyProvider{})

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/999999/daily?start=2024-01-02&end=2024-01-03", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.Code)
	assert.Contains(t, env.Message, "not found")
}

func TestStockHandlers_StockDaily_MissingParams(t *testing.T) {
	router, stockRepo, _ := newTestRouter(t, &fakeDailyProvider{})
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/600000/daily", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "required")
}

func TestStockHandlers_StockDaily_BadDate(t *testing.T) {
	router, stockRepo, _ := newTestRouter(t, &fakeDailyProvider{})
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/600000/daily?start=Jan-02&end=2024-01-03", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "invalid start date")
}

func TestStockHandlers_StockDaily_UpstreamUnavailable(t *testing.T) {
	daily := &fakeDailyProvider{err: domain.Upstreamf("no provider available for fetch_stock_daily_data")}
	router, stockRepo, _ := newTestRouter(t, daily)
	require.NoError(t, stockRepo.UpsertMany(context.Background(), testingpkg.NewStockFixtures()))

	rec, env := doRequest(t, router, http.MethodGet, "/stocks/600000/daily?start=2024-01-02&end=2024-01-03", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Code)
}
