package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const chartBody = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "regularMarketPrice": 191.5},
      "timestamp": [1700000000, 1700000300, 1700000600],
      "indicators": {"quote": [{
        "open":   [190.0, null, 191.0],
        "high":   [191.0, null, 192.0],
        "low":    [189.5, null, 190.5],
        "close":  [190.5, null, 191.5],
        "volume": [1000, null, 1200]
      }]}
    }],
    "error": null
  }
}`

const summaryBody = `{
  "quoteSummary": {
    "result": [{
      "price": {"regularMarketPrice": {"raw": 191.5, "fmt": "191.50"}, "longName": "Apple Inc.", "maxAge": 1},
      "financialData": {"currentPrice": {"raw": 191.4, "fmt": "191.40"}, "regularMarketPrice": {"raw": 1.0}},
      "summaryDetail": {"marketCap": {"raw": 2950000000000, "fmt": "2.95T"}, "trailingPE": {}}
    }],
    "error": null
  }
}`

const incomeBody = `{
  "quoteSummary": {
    "result": [{
      "incomeStatementHistoryQuarterly": {
        "incomeStatementHistory": [{
          "maxAge": 1,
          "endDate": {"raw": 1696032000, "fmt": "2023-09-30"},
          "totalRevenue": {"raw": 89498000000},
          "netIncome": {"raw": 22956000000},
          "discontinuedOperations": {}
        }]
      }
    }]
  }
}`

func newYahooServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected a User-Agent header")
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/MISSING"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/"):
			w.Write([]byte(chartBody))
		case strings.Contains(r.URL.RawQuery, "incomeStatementHistoryQuarterly"):
			w.Write([]byte(incomeBody))
		case strings.HasPrefix(r.URL.Path, "/v10/finance/quoteSummary/"):
			w.Write([]byte(summaryBody))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestYahooHistorySkipsNullBars(t *testing.T) {
	srv := newYahooServer(t)
	client := NewYahooClient(srv.URL, time.Second)

	bars, err := client.History(context.Background(), "AAPL", "1d", "5m")
	if err != nil {
		t.Fatalf("History() unexpected error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[1].Close != 191.5 || bars[1].Volume != 1200 {
		t.Errorf("unexpected last bar %+v", bars[1])
	}
	if !bars[0].Time.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("unexpected first bar time %s", bars[0].Time)
	}
}

func TestYahooFastQuote(t *testing.T) {
	srv := newYahooServer(t)
	client := NewYahooClient(srv.URL, time.Second)

	price, err := client.FastQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("FastQuote() unexpected error = %v", err)
	}
	if price != 191.5 {
		t.Errorf("expected 191.5, got %v", price)
	}
}

func TestYahooInfoFlattensModules(t *testing.T) {
	srv := newYahooServer(t)
	client := NewYahooClient(srv.URL, time.Second)

	info, err := client.Info(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Info() unexpected error = %v", err)
	}

	if v, ok := info.Float("regularMarketPrice"); !ok || v != 191.5 {
		t.Errorf("expected regularMarketPrice from the price module, got %v", info["regularMarketPrice"])
	}
	if v, ok := info.Float("currentPrice"); !ok || v != 191.4 {
		t.Errorf("expected currentPrice 191.4, got %v", info["currentPrice"])
	}
	if name, _ := info.String("longName"); name != "Apple Inc." {
		t.Errorf("unexpected longName %q", name)
	}
	if _, ok := info["maxAge"]; ok {
		t.Error("maxAge should be dropped")
	}
	if info["trailingPE"] != nil {
		t.Errorf("empty objects should become nil, got %v", info["trailingPE"])
	}
}

func TestYahooQuarterlyIncome(t *testing.T) {
	srv := newYahooServer(t)
	client := NewYahooClient(srv.URL, time.Second)

	stmt, err := client.QuarterlyIncome(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("QuarterlyIncome() unexpected error = %v", err)
	}
	if stmt.PeriodEnd.Format("2006-01-02") != "2023-09-30" {
		t.Errorf("unexpected period end %s", stmt.PeriodEnd)
	}
	if len(stmt.Items) != 2 {
		t.Fatalf("expected 2 numeric items, got %+v", stmt.Items)
	}
	labels := map[string]float64{}
	for _, item := range stmt.Items {
		labels[item.Label] = item.Value
	}
	if labels["Total Revenue"] != 89498000000 {
		t.Errorf("missing Total Revenue in %+v", stmt.Items)
	}
}

func TestYahooErrors(t *testing.T) {
	srv := newYahooServer(t)
	client := NewYahooClient(srv.URL, time.Second)

	if _, err := client.History(context.Background(), "MISSING", "1d", "5m"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for 404, got %v", err)
	}

	down := NewYahooClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := down.FastQuote(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for unreachable upstream, got %v", err)
	}
}

func TestHumanizeKey(t *testing.T) {
	tests := map[string]string{
		"totalRevenue":        "Total Revenue",
		"netIncome":           "Net Income",
		"ebit":                "Ebit",
		"researchDevelopment": "Research Development",
	}
	for in, want := range tests {
		if got := humanizeKey(in); got != want {
			t.Errorf("humanizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimulatedProvider(t *testing.T) {
	sim := NewSimulated(Venue{Name: "test", SuccessRate: 1, Volatility: 0.01}, 42)

	price, err := sim.FastQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("FastQuote() unexpected error = %v", err)
	}
	if price <= 0 {
		t.Errorf("expected positive price, got %v", price)
	}

	bars, err := sim.History(context.Background(), "AAPL", "5d", "1d")
	if err != nil {
		t.Fatalf("History() unexpected error = %v", err)
	}
	if len(bars) != 5 {
		t.Errorf("expected 5 daily bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			t.Fatalf("bars not in ascending order at %d", i)
		}
	}

	if _, err := sim.FastQuote(context.Background(), "NOPE"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for unknown symbol, got %v", err)
	}

	failing := NewSimulated(Venue{Name: "down", SuccessRate: 0}, 1)
	if _, err := failing.FastQuote(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
