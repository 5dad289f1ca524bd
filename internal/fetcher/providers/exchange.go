package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
)

const (
	exchangeName = "exchange"

	szseReportURL = "https://www.szse.cn/api/report/ShowReport"
	sseQueryURL   = "https://query.sse.com.cn/sseQuery/commonQuery.do"
	bseListURL    = "https://www.bse.cn/nqxxController/nqxxCnzq.do"

	szseMaxPages = 200
)

// ExchangeListing enumerates listed symbols straight from the three
// exchanges' public report endpoints.
type ExchangeListing struct {
	szseURL string
	sseURL  string
	bseURL  string
	client  *http.Client
	log     zerolog.Logger
}

// NewExchangeListing creates the exchange listing adapter.
func NewExchangeListing(log zerolog.Logger) *ExchangeListing {
	return &ExchangeListing{
		szseURL: szseReportURL,
		sseURL:  sseQueryURL,
		bseURL:  bseListURL,
		client:  newHTTPClient(defaultTimeout),
		log:     log.With().Str("provider", exchangeName).Logger(),
	}
}

func (e *ExchangeListing) Name() string { return exchangeName }

// HealthCheck fetches the smallest SSE listing (main-board B shares).
func (e *ExchangeListing) HealthCheck(ctx context.Context) bool {
	if _, err := e.fetchSSE(ctx, sseBoards[1:2]); err != nil {
		e.log.Warn().Err(err).Msg("Health check failed")
		return false
	}
	return true
}

func (e *ExchangeListing) GetExchangeSymbols(ctx context.Context, exchange domain.Exchange) ([]domain.ExchangeSymbol, error) {
	switch exchange {
	case domain.ExchangeSZ:
		return e.fetchSZSE(ctx)
	case domain.ExchangeSH:
		return e.fetchSSE(ctx, sseBoards)
	case domain.ExchangeBJ:
		return e.fetchBSE(ctx)
	default:
		return nil, domain.Validationf("unknown exchange %q", exchange)
	}
}

// szseTab describes one SZSE report tab and the row keys that carry the
// security code and name for that listing type.
type szseTab struct {
	key       string
	stockType string
	codeKeys  []string
	nameKeys  []string
}

var szseTabs = []szseTab{
	{key: "tab1", stockType: "A股", codeKeys: []string{"agdm"}, nameKeys: []string{"agjc"}},
	{key: "tab2", stockType: "B股", codeKeys: []string{"bgdm"}, nameKeys: []string{"bgjc"}},
	{key: "tab3", stockType: "CDR股", codeKeys: []string{"cdrdm"}, nameKeys: []string{"cdrjc"}},
	{key: "tab4", stockType: "AB股", codeKeys: []string{"agdm", "bgdm"}, nameKeys: []string{"agjc", "bgjc"}},
}

type szsePage struct {
	Metadata struct {
		TabKey    string `json:"tabkey"`
		PageCount int    `json:"pagecount"`
	} `json:"metadata"`
	Data []map[string]any `json:"data"`
}

func (e *ExchangeListing) fetchSZSE(ctx context.Context) ([]domain.ExchangeSymbol, error) {
	var symbols []domain.ExchangeSymbol
	for _, tab := range szseTabs {
		page := 1
		for {
			params := url.Values{
				"SHOWTYPE":  {"JSON"},
				"CATALOGID": {"1110"},
				"TABKEY":    {tab.key},
				"PAGENO":    {strconv.Itoa(page)},
			}

			var pages []szsePage
			if err := getJSON(ctx, e.client, e.szseURL+"?"+params.Encode(), nil, &pages); err != nil {
				return nil, fmt.Errorf("szse %s page %d: %w", tab.key, page, err)
			}
			if len(pages) == 0 {
				break
			}

			body := pages[0]
			for _, row := range body.Data {
				for i, codeKey := range tab.codeKeys {
					code := rowString(row, codeKey)
					if code == "" {
						continue
					}
					name := ""
					if i < len(tab.nameKeys) {
						name = rowString(row, tab.nameKeys[i])
					}
					symbols = append(symbols, domain.ExchangeSymbol{
						Exchange:  domain.ExchangeSZ,
						Symbol:    code,
						Name:      name,
						Section:   rowString(row, "bk"),
						StockType: tab.stockType,
					})
				}
			}

			if page >= body.Metadata.PageCount || page >= szseMaxPages {
				break
			}
			page++
		}
		e.log.Debug().Str("tab", tab.key).Str("stock_type", tab.stockType).Msg("SZSE tab fetched")
	}
	return symbols, nil
}

// sseBoard maps one SSE listing query to its stock type.
type sseBoard struct {
	stockType string // query parameter STOCK_TYPE
	label     string // A股/B股
}

var sseBoards = []sseBoard{
	{stockType: "1", label: "A股"}, // 主板A股
	{stockType: "2", label: "B股"}, // 主板B股
	{stockType: "8", label: "A股"}, // 科创板
}

// shSection classifies an SSE code: the 688 prefix is the STAR market.
func shSection(code string) string {
	if strings.HasPrefix(code, "688") {
		return "科创板"
	}
	return "沪市主板"
}

func (e *ExchangeListing) fetchSSE(ctx context.Context, boards []sseBoard) ([]domain.ExchangeSymbol, error) {
	var symbols []domain.ExchangeSymbol
	for _, board := range boards {
		params := url.Values{
			"sqlId":             {"COMMON_SSE_CP_GPJCTPZ_GPLB_GP_L"},
			"STOCK_TYPE":        {board.stockType},
			"COMPANY_STATUS":    {"2,4,5,7,8"},
			"isPagination":      {"false"},
			"pageHelp.pageSize": {"10000"},
		}
		headers := map[string]string{"Referer": "https://www.sse.com.cn/"}

		var payload struct {
			Result []struct {
				ACode string `json:"A_STOCK_CODE"`
				BCode string `json:"B_STOCK_CODE"`
				Abbr  string `json:"COMPANY_ABBR"`
			} `json:"result"`
		}
		if err := getJSON(ctx, e.client, e.sseURL+"?"+params.Encode(), headers, &payload); err != nil {
			return nil, fmt.Errorf("sse stock_type %s: %w", board.stockType, err)
		}

		for _, row := range payload.Result {
			code := strings.TrimSpace(row.ACode)
			if board.label == "B股" {
				code = strings.TrimSpace(row.BCode)
			}
			if code == "" || code == "-" {
				continue
			}
			symbols = append(symbols, domain.ExchangeSymbol{
				Exchange:  domain.ExchangeSH,
				Symbol:    code,
				Name:      strings.TrimSpace(row.Abbr),
				Section:   shSection(code),
				StockType: board.label,
			})
		}
		e.log.Debug().Str("stock_type", board.stockType).Msg("SSE board fetched")
	}
	return symbols, nil
}

// bjSection classifies a BSE code by prefix.
func bjSection(code string) string {
	switch {
	case strings.HasPrefix(code, "82"):
		return "北交优先股"
	case strings.HasPrefix(code, "83"), strings.HasPrefix(code, "87"):
		return "北交普通股"
	case strings.HasPrefix(code, "88"):
		return "北交公开发行股"
	case strings.HasPrefix(code, "920"):
		return "北交新上市公司股"
	default:
		return "北交所"
	}
}

func (e *ExchangeListing) fetchBSE(ctx context.Context) ([]domain.ExchangeSymbol, error) {
	var symbols []domain.ExchangeSymbol
	page := 0
	for {
		form := url.Values{
			"page":      {strconv.Itoa(page)},
			"typejb":    {"T"},
			"xxfcbj[]":  {"2"},
			"sortfield": {"xxzqdm"},
			"sorttype":  {"asc"},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.bseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("bse page %d: %w", page, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("bse page %d: %w", page, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("bse page %d: %w", page, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("bse page %d: API returned status %d", page, resp.StatusCode)
		}

		batch, totalPages, err := parseBSEPage(raw)
		if err != nil {
			return nil, fmt.Errorf("bse page %d: %w", page, err)
		}
		symbols = append(symbols, batch...)

		page++
		if page >= totalPages {
			break
		}
	}
	e.log.Debug().Int("symbols", len(symbols)).Msg("BSE listing fetched")
	return symbols, nil
}

// parseBSEPage strips the jsonp-style null(...) wrapper and extracts one
// page of listing rows.
func parseBSEPage(raw []byte) ([]domain.ExchangeSymbol, int, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "null(")
	text = strings.TrimSuffix(text, ")")

	var pages []struct {
		TotalPages int `json:"totalPages"`
		Content    []struct {
			Code string `json:"xxzqdm"`
			Name string `json:"xxzqjc"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(text), &pages); err != nil {
		return nil, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(pages) == 0 {
		return nil, 0, nil
	}

	body := pages[0]
	symbols := make([]domain.ExchangeSymbol, 0, len(body.Content))
	for _, row := range body.Content {
		if row.Code == "" {
			continue
		}
		symbols = append(symbols, domain.ExchangeSymbol{
			Exchange:  domain.ExchangeBJ,
			Symbol:    row.Code,
			Name:      row.Name,
			Section:   bjSection(row.Code),
			StockType: "A股",
		})
	}
	return symbols, body.TotalPages, nil
}

// rowString reads a string-ish cell from a loosely typed report row.
func rowString(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
