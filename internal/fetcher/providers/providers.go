// Package providers contains the upstream market-data adapters registered
// with the fetcher registry. Each adapter normalizes its upstream payload
// to the canonical domain types.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/marketd/internal/domain"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultTimeout = 10 * time.Second
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getJSON fetches url and decodes the JSON body into out. Extra headers
// are applied on top of the shared User-Agent.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// inferExchange guesses the listing exchange from the symbol prefix.
// 6/9 prefixes trade in Shanghai, 4/8/92 in Beijing, the rest in Shenzhen.
// 92 must be tested before 9.
func inferExchange(symbol string) domain.Exchange {
	switch {
	case strings.HasPrefix(symbol, "92"):
		return domain.ExchangeBJ
	case strings.HasPrefix(symbol, "6"), strings.HasPrefix(symbol, "9"):
		return domain.ExchangeSH
	case strings.HasPrefix(symbol, "4"), strings.HasPrefix(symbol, "8"):
		return domain.ExchangeBJ
	default:
		return domain.ExchangeSZ
	}
}

func float64Ptr(v float64) *float64 { return &v }
