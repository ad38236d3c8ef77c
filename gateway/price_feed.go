package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// PriceFeed 拉取 XCH 美元现价（coincodex）与 CAT/XCH 行情（dexie v3）。
// HTTPClient 可注入 httptest。
type PriceFeed struct {
	XCHPriceURL string
	TickersURL  string
	HTTPClient  *http.Client
	Limiter     RateLimiter
}

// Ticker is one dexie price ticker. Numeric fields arrive as numbers or
// numeric strings depending on the venue version.
type Ticker struct {
	TickerID       string      `json:"ticker_id"`
	BaseCurrency   string      `json:"base_currency"`
	TargetCurrency string      `json:"target_currency"`
	LastPrice      json.Number `json:"last_price"`
	BaseVolume     json.Number `json:"base_volume"`
	Bid            json.Number `json:"bid"`
	Ask            json.Number `json:"ask"`
}

// Last returns LastPrice as float64, zero when absent.
func (t Ticker) Last() float64 {
	v, _ := t.LastPrice.Float64()
	return v
}

type coinResp struct {
	LastPriceUSD json.RawMessage `json:"last_price_usd"`
}

// XCHPriceUSD returns the current XCH spot price in USD.
func (f *PriceFeed) XCHPriceUSD(ctx context.Context) (float64, error) {
	var cr coinResp
	if err := f.getJSON(ctx, f.XCHPriceURL, &cr); err != nil {
		return 0, fmt.Errorf("xch price: %w", err)
	}
	price, err := parseLooseFloat(cr.LastPriceUSD)
	if err != nil {
		return 0, fmt.Errorf("xch price: %w", err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("xch price: not finite: %s", cr.LastPriceUSD)
	}
	return price, nil
}

// Tickers returns dexie tickers. The endpoint answers either a bare list or
// an object with a "tickers" field.
func (f *PriceFeed) Tickers(ctx context.Context) ([]Ticker, error) {
	var raw json.RawMessage
	if err := f.getJSON(ctx, f.TickersURL, &raw); err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}
	var list []Ticker
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Tickers []Ticker `json:"tickers"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("tickers: decode: %w", err)
	}
	return wrapped.Tickers, nil
}

func (f *PriceFeed) getJSON(ctx context.Context, url string, out any) error {
	if f == nil || f.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if url == "" {
		return fmt.Errorf("url not set")
	}
	if err := waitLimiter(ctx, f.Limiter); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseLooseFloat accepts a JSON number or a numeric string.
func parseLooseFloat(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing value")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(s, 64)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
