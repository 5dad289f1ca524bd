package providers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

// Compile-time protocol coverage of the adapters.
var (
	_ fetcher.DailyDataFetcher       = (*EastMoney)(nil)
	_ fetcher.BasicInfoFetcher       = (*EastMoney)(nil)
	_ fetcher.MethodSpecProvider     = (*EastMoney)(nil)
	_ fetcher.DailyDataFetcher       = (*Sina)(nil)
	_ fetcher.MethodSpecProvider     = (*Sina)(nil)
	_ fetcher.DailyDataFetcher       = (*XueQiu)(nil)
	_ fetcher.BasicInfoFetcher       = (*XueQiu)(nil)
	_ fetcher.MethodSpecProvider     = (*XueQiu)(nil)
	_ fetcher.ExchangeSymbolsFetcher = (*ExchangeListing)(nil)
	_ fetcher.IndustryInfoFetcher    = (*Legulegu)(nil)
	_ fetcher.IndustryConsFetcher    = (*Legulegu)(nil)
	_ fetcher.MethodSpecProvider     = (*Legulegu)(nil)
)

func TestInferExchange(t *testing.T) {
	tests := []struct {
		symbol string
		want   domain.Exchange
	}{
		{"600000", domain.ExchangeSH},
		{"688981", domain.ExchangeSH},
		{"900901", domain.ExchangeSH},
		{"000001", domain.ExchangeSZ},
		{"300750", domain.ExchangeSZ},
		{"200011", domain.ExchangeSZ},
		{"430047", domain.ExchangeBJ},
		{"830799", domain.ExchangeBJ},
		{"871981", domain.ExchangeBJ},
		{"920099", domain.ExchangeBJ},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, inferExchange(tt.symbol))
		})
	}
}

func TestQuoteProviderSpecs(t *testing.T) {
	log := zerolog.Nop()
	for name, specs := range map[string]map[string]fetcher.MethodSpec{
		"eastmoney": NewEastMoney(log).MethodSpecs(),
		"sina":      NewSina(log).MethodSpecs(),
		"xueqiu":    NewXueQiu(log).MethodSpecs(),
	} {
		spec, ok := specs[fetcher.MethodFetchStockDailyData]
		require.True(t, ok, "%s declares the daily method", name)
		assert.Equal(t, 1.2, spec.Weight, name)
		assert.Equal(t, 30, spec.QPS, name)
		assert.Equal(t, 5, spec.Concurrency, name)
	}
}

func TestLeguleguSpecs(t *testing.T) {
	specs := NewLegulegu(zerolog.Nop()).MethodSpecs()
	for _, method := range []string{fetcher.MethodFetchIndustryInfo, fetcher.MethodFetchIndustryCons} {
		spec, ok := specs[method]
		require.True(t, ok, method)
		assert.Equal(t, 1.0, spec.Weight)
		assert.Equal(t, 30, spec.QPS)
		assert.Equal(t, 3, spec.Concurrency)
	}
}
