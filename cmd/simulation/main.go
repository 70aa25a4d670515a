package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/logger"

	"github.com/ksred/marketracker-api/internal/auth"
	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/internal/ledger"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/internal/portfolio"
	"github.com/ksred/marketracker-api/internal/pricing"
	"github.com/ksred/marketracker-api/internal/trading"
	"github.com/ksred/marketracker-api/pkg/middleware"
)

const (
	numTraders      = 5
	minTrades       = 15
	maxTrades       = 60
	replayRate      = 0.1
	startingBalance = 100_000
)

var (
	symbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "TSLA"}
	actions = []string{"buy", "buy", "sell"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]
	return
}

// simulationClient talks to the API as one trader
type simulationClient struct {
	baseURL string
	email   string
	token   string
	client  *http.Client
	stats   map[string]*routeStats
}

// apiError is the error envelope of the API
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (sc *simulationClient) call(route, method, path string, body any, headers map[string]string, out any) (int, error) {
	start := time.Now()
	status, err := sc.do(method, path, body, headers, out)
	sc.stats[route].record(time.Since(start), err != nil || status >= 500)
	return status, err
}

func (sc *simulationClient) do(method, path string, body any, headers map[string]string, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequest(method, sc.baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Int("status", resp.StatusCode).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode >= 400 {
		var e apiError
		_ = json.Unmarshal(respBody, &e)
		return resp.StatusCode, fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, e.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return resp.StatusCode, nil
}

// signUp registers and logs in the trader
func (sc *simulationClient) signUp() error {
	creds := map[string]string{"email": sc.email, "password": "simulation"}
	if _, err := sc.call("register", http.MethodPost, "/api/register", creds, nil, nil); err != nil {
		return err
	}

	var login struct {
		AccessToken string `json:"access_token"`
	}
	if _, err := sc.call("login", http.MethodPost, "/api/login", creds, nil, &login); err != nil {
		return err
	}
	sc.token = login.AccessToken
	return nil
}

type tradeOutcome struct {
	Message     string `json:"message"`
	Replayed    bool   `json:"replayed"`
	Transaction struct {
		TransactionID string  `json:"transaction_id"`
		Symbol        string  `json:"symbol"`
		Action        string  `json:"action"`
		Shares        int64   `json:"shares"`
		Price         float64 `json:"price"`
		Total         float64 `json:"total"`
	} `json:"transaction"`
}

func (sc *simulationClient) trade(symbol, action string, shares int, key string) (*tradeOutcome, int, error) {
	var out tradeOutcome
	body := map[string]any{"symbol": symbol, "action": action, "shares": shares}
	status, err := sc.call("trade", http.MethodPost, "/api/trade", body, map[string]string{"Idempotency-Key": key}, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

type portfolioView struct {
	Portfolio []struct {
		Symbol string `json:"symbol"`
		Shares int64  `json:"shares"`
	} `json:"portfolio"`
	TotalValue  float64 `json:"total_value"`
	CashBalance float64 `json:"cash_balance"`
}

func (sc *simulationClient) portfolio() (*portfolioView, error) {
	var out portfolioView
	if _, err := sc.call("portfolio", http.MethodGet, "/api/portfolio", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// simStats collects trade outcomes across traders
type simStats struct {
	mu         sync.Mutex
	executed   int
	rejected   int
	failed     int
	replayed   int
	totalValue float64
	symbols    map[string]int
	actions    map[string]int
	rejections map[string]int
}

// main runs the trading simulation against an in-process API server
func main() {
	baseURL, cleanup, err := startServer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	defer cleanup()

	stats := map[string]*routeStats{
		"register":  {name: "Register"},
		"login":     {name: "Login"},
		"trade":     {name: "Trade"},
		"portfolio": {name: "Portfolio"},
	}
	sim := &simStats{
		symbols:    make(map[string]int),
		actions:    make(map[string]int),
		rejections: make(map[string]int),
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < numTraders; i++ {
		wg.Add(1)
		go func(traderID int) {
			defer wg.Done()
			sc := &simulationClient{
				baseURL: baseURL,
				email:   fmt.Sprintf("trader%d@simulation.local", traderID),
				client:  &http.Client{Timeout: 10 * time.Second},
				stats:   stats,
			}
			if err := sc.signUp(); err != nil {
				log.Error().Err(err).Int("trader", traderID).Msg("Failed to sign up")
				return
			}
			runTrader(traderID, sc, sim)
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	printSummary(sim, duration)
	printPerformanceStats(stats)
}

// runTrader submits random trades, replaying some idempotency keys
func runTrader(traderID int, sc *simulationClient, sim *simStats) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(traderID)))
	n := rng.Intn(maxTrades-minTrades) + minTrades
	var lastKey string

	for i := 0; i < n; i++ {
		key := uuid.New().String()
		symbol := symbols[rng.Intn(len(symbols))]
		action := actions[rng.Intn(len(actions))]
		shares := rng.Intn(20) + 1
		if lastKey != "" && rng.Float64() < replayRate {
			key = lastKey
		}

		out, status, err := sc.trade(symbol, action, shares, key)
		sim.mu.Lock()
		switch {
		case err == nil && out.Replayed:
			sim.replayed++
		case err == nil:
			sim.executed++
			sim.totalValue += out.Transaction.Total
			sim.symbols[out.Transaction.Symbol]++
			sim.actions[out.Transaction.Action]++
		case status >= 400 && status < 500:
			sim.rejected++
			sim.rejections[rejectionCode(err)]++
		default:
			sim.failed++
		}
		sim.mu.Unlock()

		if err == nil {
			lastKey = key
			log.Info().
				Int("trader", traderID).
				Str("transaction_id", out.Transaction.TransactionID).
				Str("symbol", out.Transaction.Symbol).
				Str("action", out.Transaction.Action).
				Int64("shares", out.Transaction.Shares).
				Float64("price", out.Transaction.Price).
				Bool("replayed", out.Replayed).
				Msg("Trade executed")
		} else {
			log.Warn().Err(err).Int("trader", traderID).Str("symbol", symbol).Str("action", action).Msg("Trade not executed")
		}

		time.Sleep(time.Duration(rng.Intn(100)) * time.Millisecond)
	}

	if p, err := sc.portfolio(); err == nil {
		log.Info().
			Int("trader", traderID).
			Int("positions", len(p.Portfolio)).
			Float64("cash_balance", p.CashBalance).
			Float64("total_value", p.TotalValue).
			Msg("Final portfolio")
	}
}

func rejectionCode(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return "UNKNOWN"
}

func printSummary(sim *simStats, duration time.Duration) {
	total := sim.executed + sim.rejected + sim.failed + sim.replayed

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAPER TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Trade Statistics
----------------
Submitted:        %d
Executed:         %d
Replayed:         %d
Rejected:         %d
Failed:           %d
Total Value:      $%.2f
Duration:         %v

Symbol Distribution
-------------------
`, total, sim.executed, sim.replayed, sim.rejected, sim.failed, sim.totalValue, duration.Round(time.Millisecond))

	printBars(sim.symbols)
	fmt.Println("\nAction Distribution")
	fmt.Println("-------------------")
	printBars(sim.actions)
	fmt.Println("\nRejections")
	fmt.Println("----------")
	printBars(sim.rejections)
	fmt.Println("\n" + strings.Repeat("=", 80))
}

func printBars(counts map[string]int) {
	maxCount := 0
	keys := make([]string, 0, len(counts))
	for k, c := range counts {
		keys = append(keys, k)
		if c > maxCount {
			maxCount = c
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		barLength := int(float64(counts[k]) / float64(maxCount) * 20)
		fmt.Printf("%-20s: %s (%d)\n", k, strings.Repeat("#", barLength), counts[k])
	}
}

// printPerformanceStats outputs latency statistics for every endpoint
func printPerformanceStats(stats map[string]*routeStats) {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, route := range []string{"register", "login", "trade", "portfolio"} {
		rs := stats[route]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// startServer runs the trading API on a random local port, backed by a
// temporary SQLite database and the simulated venue
func startServer() (string, func(), error) {
	dir, err := os.MkdirTemp("", "marketracker-sim")
	if err != nil {
		return "", nil, err
	}

	db, err := database.Open(database.Options{
		Driver:   "sqlite",
		DSN:      filepath.Join(dir, "sim.db"),
		LogLevel: logger.Silent,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return "", nil, err
	}

	provider := marketdata.NewSimulated(marketdata.DefaultVenue, time.Now().UnixNano())
	prices := pricing.NewResolver(provider, 5*time.Second)
	store := ledger.NewStore(db, 5*time.Second)

	authService := auth.NewService(db, auth.Options{
		JWTSecret:       uuid.New().String(),
		TokenTTL:        time.Hour,
		StartingBalance: decimal.NewFromInt(startingBalance),
	})
	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(trading.NewService(store, prices))
	portfolioHandlers := portfolio.NewGinHandlers(portfolio.NewService(store, prices))

	router := gin.New()
	router.Use(gin.Recovery())
	api := router.Group("/api")
	{
		api.POST("/register", authHandlers.RegisterHandler())
		api.POST("/login", authHandlers.LoginHandler())

		protected := api.Group("")
		protected.Use(middleware.JWTAuth(authService))
		{
			protected.POST("/trade", tradingHandlers.TradeHandler())
			protected.GET("/portfolio", portfolioHandlers.GetPortfolioHandler())
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("simulation server stopped")
		}
	}()

	cleanup := func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		os.RemoveAll(dir)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Simulation server started")
	return "http://" + ln.Addr().String(), cleanup, nil
}
