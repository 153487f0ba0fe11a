package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Quote struct {
	Ticker               string    `json:"ticker"`
	Price                float64   `json:"price"`
	PreviousClose        float64   `json:"previous_close"`
	Volume               int64     `json:"volume"`
	HistoricalVolatility float64   `json:"historical_volatility"`
	Currency             string    `json:"currency,omitempty"`
	AsOf                 time.Time `json:"as_of"`
}

type Contract struct {
	Kind              string  `json:"kind"` // call or put
	Strike            float64 `json:"strike"`
	DaysToExpiry      int     `json:"days_to_expiry"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	OpenInterest      int64   `json:"open_interest"`
}

type Chain struct {
	Ticker     string     `json:"ticker"`
	Underlying float64    `json:"underlying"`
	Contracts  []Contract `json:"contracts"`
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Headers   map[string]string
}

// Client talks to the market-data gateway. Quotes are cached for CacheTTL;
// option chains are always fetched fresh.
type Client struct {
	base    string
	http    *http.Client
	headers map[string]string
	quotes  *expirable.LRU[string, Quote]
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second // default 30 seconds
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		headers: cfg.Headers,
		quotes:  expirable.NewLRU[string, Quote](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (c *Client) Quote(ctx context.Context, ticker string) (Quote, error) {
	if q, ok := c.quotes.Get(ticker); ok {
		return q, nil
	}
	var q Quote
	if err := c.getJSON(ctx, "/quotes/"+url.PathEscape(ticker), &q); err != nil {
		return Quote{}, fmt.Errorf("quote %s: %w", ticker, err)
	}
	if q.Ticker == "" {
		q.Ticker = ticker
	}
	c.quotes.Add(ticker, q)
	return q, nil
}

func (c *Client) OptionChain(ctx context.Context, ticker string, maxDays int) (Chain, error) {
	path := "/options/" + url.PathEscape(ticker)
	if maxDays > 0 {
		path += "?max_days=" + strconv.Itoa(maxDays)
	}
	var ch Chain
	if err := c.getJSON(ctx, path, &ch); err != nil {
		return Chain{}, fmt.Errorf("option chain %s: %w", ticker, err)
	}
	if ch.Ticker == "" {
		ch.Ticker = ticker
	}
	return ch, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.base == "" {
		return fmt.Errorf("market data base URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response payload: %w", err)
	}
	return nil
}
