package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/fetcher"
)

const (
	leguleguName        = "legulegu"
	leguleguOverviewURL = "https://legulegu.com/api/stockdata/sw-industry-overview"
	leguleguConsURL     = "https://legulegu.com/api/stockdata/index-composition"
)

// Legulegu serves the Shenwan three-level industry classification and the
// constituents of third-level industries.
type Legulegu struct {
	overviewURL string
	consURL     string
	client      *http.Client
	log         zerolog.Logger
}

// NewLegulegu creates the legulegu adapter.
func NewLegulegu(log zerolog.Logger) *Legulegu {
	return &Legulegu{
		overviewURL: leguleguOverviewURL,
		consURL:     leguleguConsURL,
		client:      newHTTPClient(defaultTimeout),
		log:         log.With().Str("provider", leguleguName).Logger(),
	}
}

func (l *Legulegu) Name() string { return leguleguName }

// HealthCheck always reports healthy.
func (l *Legulegu) HealthCheck(ctx context.Context) bool { return true }

func (l *Legulegu) MethodSpecs() map[string]fetcher.MethodSpec {
	return map[string]fetcher.MethodSpec{
		fetcher.MethodFetchIndustryInfo: {Weight: 1.0, QPS: 30, Concurrency: 3},
		fetcher.MethodFetchIndustryCons: {Weight: 1.0, QPS: 30, Concurrency: 3},
	}
}

type leguleguIndustryRow struct {
	IndustryCode string `json:"industryCode"`
	IndustryName string `json:"industryName"`
	ParentName   string `json:"parentIndustryName"`
}

func (l *Legulegu) fetchLevel(ctx context.Context, level int) ([]leguleguIndustryRow, error) {
	params := url.Values{"level": {strconv.Itoa(level)}}

	var payload struct {
		Data []leguleguIndustryRow `json:"data"`
	}
	if err := getJSON(ctx, l.client, l.overviewURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("legulegu level %d: %w", level, err)
	}
	l.log.Debug().Int("level", level).Int("rows", len(payload.Data)).Msg("Industry level fetched")
	return payload.Data, nil
}

// FetchIndustryInfo returns the full three-level tree. Level 1 rows are
// roots; levels 2 and 3 resolve their parent code through the previous
// level's name index, the way the upstream links them by name.
func (l *Legulegu) FetchIndustryInfo(ctx context.Context) ([]domain.IndustryInfo, error) {
	var industries []domain.IndustryInfo

	nameToCode := make(map[string]string)
	for level := 1; level <= 3; level++ {
		rows, err := l.fetchLevel(ctx, level)
		if err != nil {
			return nil, err
		}

		nextIndex := make(map[string]string, len(rows))
		for _, row := range rows {
			if row.IndustryCode == "" || row.IndustryName == "" {
				continue
			}
			info := domain.IndustryInfo{
				IndustryCode: row.IndustryCode,
				Name:         row.IndustryName,
				Level:        level,
			}
			if level > 1 {
				if parent, ok := nameToCode[row.ParentName]; ok {
					p := parent
					info.ParentCode = &p
				}
			}
			industries = append(industries, info)
			nextIndex[row.IndustryName] = row.IndustryCode
		}
		nameToCode = nextIndex
	}

	return industries, nil
}

// FetchIndustryCons returns the constituents of one third-level industry.
// Upstream stock codes carry an exchange suffix (000048.SZ) which is
// stripped.
func (l *Legulegu) FetchIndustryCons(ctx context.Context, industryCode string) ([]domain.IndustryMapping, error) {
	params := url.Values{"industryCode": {industryCode}}

	var payload struct {
		Data []struct {
			StockCode string `json:"stockCode"`
			StockName string `json:"stockName"`
		} `json:"data"`
	}
	if err := getJSON(ctx, l.client, l.consURL+"?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("legulegu cons %s: %w", industryCode, err)
	}

	mappings := make([]domain.IndustryMapping, 0, len(payload.Data))
	for _, row := range payload.Data {
		symbol, _, _ := strings.Cut(row.StockCode, ".")
		if symbol == "" {
			continue
		}
		mappings = append(mappings, domain.IndustryMapping{
			Symbol:       symbol,
			IndustryCode: industryCode,
			IsMain:       true,
		})
	}
	l.log.Debug().Str("industry", industryCode).Int("constituents", len(mappings)).Msg("Constituents fetched")
	return mappings, nil
}
