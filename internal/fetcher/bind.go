package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketd/internal/domain"
)

// proxy implements StockInfoFetcher on top of the registry's router. Each
// method call is one routed invocation.
type proxy struct {
	reg *Registry
}

var _ StockInfoFetcher = (*proxy)(nil)

func (p *proxy) FetchStockDailyData(ctx context.Context, symbol string, start, end time.Time, opts ...CallOption) ([]domain.DailyBar, error) {
	var bars []domain.DailyBar
	err := p.reg.invoke(ctx, MethodFetchStockDailyData, buildCallOptions(opts), func(ctx context.Context, prov Provider) error {
		impl, ok := prov.(DailyDataFetcher)
		if !ok {
			return fmt.Errorf("provider %s does not implement %s", prov.Name(), MethodFetchStockDailyData)
		}
		got, err := impl.FetchStockDailyData(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		bars = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (p *proxy) GetStockBasicInfo(ctx context.Context, exchange domain.Exchange, symbol string, opts ...CallOption) (*domain.StockBasicInfo, error) {
	var info *domain.StockBasicInfo
	err := p.reg.invoke(ctx, MethodGetStockBasicInfo, buildCallOptions(opts), func(ctx context.Context, prov Provider) error {
		impl, ok := prov.(BasicInfoFetcher)
		if !ok {
			return fmt.Errorf("provider %s does not implement %s", prov.Name(), MethodGetStockBasicInfo)
		}
		got, err := impl.GetStockBasicInfo(ctx, exchange, symbol)
		if err != nil {
			return err
		}
		info = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (p *proxy) GetExchangeSymbols(ctx context.Context, exchange domain.Exchange, opts ...CallOption) ([]domain.ExchangeSymbol, error) {
	var symbols []domain.ExchangeSymbol
	err := p.reg.invoke(ctx, MethodGetExchangeSymbols, buildCallOptions(opts), func(ctx context.Context, prov Provider) error {
		impl, ok := prov.(ExchangeSymbolsFetcher)
		if !ok {
			return fmt.Errorf("provider %s does not implement %s", prov.Name(), MethodGetExchangeSymbols)
		}
		got, err := impl.GetExchangeSymbols(ctx, exchange)
		if err != nil {
			return err
		}
		symbols = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

func (p *proxy) FetchIndustryInfo(ctx context.Context, opts ...CallOption) ([]domain.IndustryInfo, error) {
	var industries []domain.IndustryInfo
	err := p.reg.invoke(ctx, MethodFetchIndustryInfo, buildCallOptions(opts), func(ctx context.Context, prov Provider) error {
		impl, ok := prov.(IndustryInfoFetcher)
		if !ok {
			return fmt.Errorf("provider %s does not implement %s", prov.Name(), MethodFetchIndustryInfo)
		}
		got, err := impl.FetchIndustryInfo(ctx)
		if err != nil {
			return err
		}
		industries = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return industries, nil
}

func (p *proxy) FetchIndustryCons(ctx context.Context, industryCode string, opts ...CallOption) ([]domain.IndustryMapping, error) {
	var mappings []domain.IndustryMapping
	err := p.reg.invoke(ctx, MethodFetchIndustryCons, buildCallOptions(opts), func(ctx context.Context, prov Provider) error {
		impl, ok := prov.(IndustryConsFetcher)
		if !ok {
			return fmt.Errorf("provider %s does not implement %s", prov.Name(), MethodFetchIndustryCons)
		}
		got, err := impl.FetchIndustryCons(ctx, industryCode)
		if err != nil {
			return err
		}
		mappings = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}
