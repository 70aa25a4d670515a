package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog/log"
)

const userAgent = "Mozilla/5.0 (compatible; marketracker/1.0)"

// quoteSummary modules merged into Info
var infoModules = []string{"price", "summaryDetail", "financialData", "assetProfile", "defaultKeyStatistics"}

// YahooClient reads quotes, history and fundamentals from Yahoo Finance
type YahooClient struct {
	baseURL string
	client  *http.Client
}

// NewYahooClient creates a client against baseURL, e.g. https://query1.finance.yahoo.com
func NewYahooClient(baseURL string, timeout time.Duration) *YahooClient {
	return &YahooClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (y *YahooClient) Name() string {
	return "yahoo"
}

// Info returns the flattened quoteSummary modules for symbol
func (y *YahooClient) Info(ctx context.Context, symbol string) (Info, error) {
	addr := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s",
		y.baseURL, url.PathEscape(symbol), strings.Join(infoModules, ","))

	var payload any
	if err := y.getJSON(ctx, addr, &payload); err != nil {
		return nil, err
	}

	result, err := first(jsonpath.Get("$.quoteSummary.result[0]", payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoData, symbol, err)
	}
	modules, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected quoteSummary shape", ErrNoData, symbol)
	}

	info := make(Info)
	for _, name := range infoModules {
		fields, ok := modules[name].(map[string]any)
		if !ok {
			continue
		}
		for key, value := range fields {
			if key == "maxAge" {
				continue
			}
			// first module wins, price is the most authoritative
			if _, seen := info[key]; seen {
				continue
			}
			info[key] = unwrapRaw(value)
		}
	}
	return info, nil
}

// History returns the chart bars for period and interval
func (y *YahooClient) History(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	chart, err := y.chart(ctx, symbol, period, interval)
	if err != nil {
		return nil, err
	}
	if len(chart.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	q := chart.Indicators.Quote[0]
	bars := make([]Bar, 0, len(chart.Timestamp))
	for i, ts := range chart.Timestamp {
		// Yahoo pads missing periods with nulls
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		bars = append(bars, Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  *q.Close[i],
			Volume: int64(at(q.Volume, i)),
		})
	}
	return bars, nil
}

// FastQuote returns the chart meta price, the cheapest call Yahoo offers
func (y *YahooClient) FastQuote(ctx context.Context, symbol string) (float64, error) {
	chart, err := y.chart(ctx, symbol, "1d", "1m")
	if err != nil {
		return 0, err
	}
	if chart.Meta.RegularMarketPrice == nil {
		return 0, fmt.Errorf("%w: %s has no last price", ErrNoData, symbol)
	}
	return *chart.Meta.RegularMarketPrice, nil
}

// QuarterlyIncome returns the latest quarterly income statement
func (y *YahooClient) QuarterlyIncome(ctx context.Context, symbol string) (*IncomeStatement, error) {
	addr := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=incomeStatementHistoryQuarterly",
		y.baseURL, url.PathEscape(symbol))

	var payload any
	if err := y.getJSON(ctx, addr, &payload); err != nil {
		return nil, err
	}

	path := "$.quoteSummary.result[0].incomeStatementHistoryQuarterly.incomeStatementHistory[0]"
	latest, err := first(jsonpath.Get(path, payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoData, symbol, err)
	}
	fields, ok := latest.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected statement shape", ErrNoData, symbol)
	}

	stmt := &IncomeStatement{}
	if end, ok := unwrapRaw(fields["endDate"]).(float64); ok {
		stmt.PeriodEnd = time.Unix(int64(end), 0).UTC()
	}
	for key, value := range fields {
		if key == "maxAge" || key == "endDate" {
			continue
		}
		v, ok := unwrapRaw(value).(float64)
		if !ok {
			continue
		}
		stmt.Items = append(stmt.Items, LineItem{Label: humanizeKey(key), Value: v})
	}
	return stmt, nil
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string   `json:"symbol"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

func (y *YahooClient) chart(ctx context.Context, symbol, period, interval string) (*chartResult, error) {
	addr := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		y.baseURL, url.PathEscape(symbol), url.QueryEscape(period), url.QueryEscape(interval))

	var resp chartResponse
	if err := y.getJSON(ctx, addr, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrNoData, symbol, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	return &resp.Chart.Result[0], nil
}

// getJSON performs a GET and unmarshals the JSON body into data
func (y *YahooClient) getJSON(ctx context.Context, addr string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("provider", "yahoo").
		Str("path", resp.Request.URL.Path).
		Int("status", resp.StatusCode).
		Msg("upstream response")

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNoData, resp.Request.URL.Path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: %s", ErrUnavailable, resp.Request.URL.Path, resp.Status)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(buf.Bytes(), data); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrUnavailable, err)
	}
	return nil
}

// first keeps the first answer, jsonpath may return a list of one
func first(v any, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("empty result")
		}
		return list[0], nil
	}
	return v, nil
}

// unwrapRaw turns {"raw": 1.5, "fmt": "1.50"} into 1.5; empty objects become nil
func unwrapRaw(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if raw, ok := obj["raw"]; ok {
		return raw
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

// humanizeKey turns totalRevenue into "Total Revenue"
func humanizeKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
