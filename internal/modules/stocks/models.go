// Package stocks manages listed-security metadata and the Shenwan industry
// classification: repositories over the market database, a query service,
// and the sync pipeline that refreshes both from upstream providers.
package stocks

// FilterRequest narrows the stock listing. List fields are OR within the
// field and AND across fields. Market-cap bounds apply to float market
// value in CNY. Dates are "2006-01-02" strings.
type FilterRequest struct {
	Exchanges        []string `json:"exchange,omitempty"`
	Sections         []string `json:"sections,omitempty"`
	StockTypes       []string `json:"stock_type,omitempty"`
	Industries       []string `json:"industries,omitempty"`
	StartListingDate string   `json:"start_listing_date,omitempty"`
	EndListingDate   string   `json:"end_listing_date,omitempty"`
	MinMarketCap     *float64 `json:"min_market_cap,omitempty"`
	MaxMarketCap     *float64 `json:"max_market_cap,omitempty"`
	Keyword          string   `json:"keyword,omitempty"`
}

// FilterOptions lists the distinct values selectable in a FilterRequest.
type FilterOptions struct {
	Exchanges  []string `json:"exchanges"`
	Industries []string `json:"industries"`
	StockTypes []string `json:"stockTypes"`
	Sections   []string `json:"sections"`
}
