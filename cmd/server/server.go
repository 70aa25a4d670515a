package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/marketracker-api/internal/analytics"
	"github.com/ksred/marketracker-api/internal/auth"
	"github.com/ksred/marketracker-api/internal/cache"
	"github.com/ksred/marketracker-api/internal/companies"
	"github.com/ksred/marketracker-api/internal/config"
	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/internal/ledger"
	"github.com/ksred/marketracker-api/internal/market"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/internal/portfolio"
	"github.com/ksred/marketracker-api/internal/pricing"
	"github.com/ksred/marketracker-api/internal/stream"
	"github.com/ksred/marketracker-api/internal/trading"
	"github.com/ksred/marketracker-api/pkg/middleware"
)

// upstreamTimeout bounds a single market data HTTP call
const upstreamTimeout = 10 * time.Second

// app holds the wired services of one server instance
type app struct {
	cfg *config.Config
	db  *gorm.DB

	authService *auth.Service
	auth        *auth.GinHandlers
	trading     *trading.GinHandlers
	portfolio   *portfolio.GinHandlers
	companies   *companies.GinHandlers
	market      *market.GinHandlers
	stream      *stream.Streamer
	limiter     *middleware.RateLimiter
	accounts    *middleware.RateLimiter
	janitor     *trading.Janitor
}

// newProvider returns the configured market data source
func newProvider(cfg *config.Config) marketdata.Provider {
	if cfg.MarketDataProvider == "simulated" {
		return marketdata.NewSimulated(marketdata.DefaultVenue, time.Now().UnixNano())
	}
	return marketdata.NewYahooClient(cfg.MarketDataBaseURL, upstreamTimeout)
}

func newApp(cfg *config.Config, db *gorm.DB, provider marketdata.Provider) *app {
	store := ledger.NewStore(db, cfg.CommitTimeout)
	prices := pricing.NewResolver(provider, cfg.PriceTimeout)

	authService := auth.NewService(db, auth.Options{
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        cfg.TokenTTL,
		StartingBalance: cfg.StartingBalance,
	})

	memo := cache.NewMemoizer(cache.NewMemory(cfg.CacheTTL, 10*time.Minute))
	analyticsService := analytics.NewService(provider, memo, analytics.Options{
		CacheTTL:    cfg.CacheTTL,
		ForecastTTL: cfg.ForecastTTL,
	})

	var proxy *market.Proxy
	if cfg.DataServiceURL != "" {
		proxy = market.NewProxy(cfg.DataServiceURL, market.DefaultProxyTimeout)
	}

	return &app{
		cfg:         cfg,
		db:          db,
		authService: authService,
		auth:        auth.NewGinHandlers(authService),
		trading:     trading.NewGinHandlers(trading.NewService(store, prices)),
		portfolio:   portfolio.NewGinHandlers(portfolio.NewService(store, prices)),
		companies:   companies.NewGinHandlers(companies.NewService(db)),
		market:      market.NewGinHandlers(analyticsService, proxy),
		stream:      stream.NewStreamer(provider, cfg.StreamInterval, cfg.AllowedOrigins),
		limiter:     middleware.NewRateLimiter(middleware.DefaultRateRules),
		accounts:    middleware.NewRateLimiter(middleware.AccountRateRules),
		janitor:     trading.NewJanitor(db, cfg.JanitorInterval),
	}
}

// setupRouter configures all API endpoints and their handlers. Account,
// search and market data routes are public; portfolio and trading routes
// require a bearer token.
func (a *app) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(a.cfg.AllowedOrigins),
		a.limiter.Middleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	api := router.Group("/api")
	{
		api.POST("/register", a.auth.RegisterHandler())
		api.POST("/login", a.auth.LoginHandler())

		api.GET("/search", a.companies.SearchHandler())
		api.GET("/stock/:symbol", a.market.StockHandler())
		api.GET("/dashboard/:symbol", a.market.DashboardHandler())
		api.GET("/comparison/:symbol", a.market.ComparisonHandler())
		api.GET("/ws/prices", a.stream.Handler())

		protected := api.Group("")
		protected.Use(middleware.JWTAuth(a.authService), a.accounts.Middleware())
		{
			protected.GET("/test-auth", a.auth.TestAuthHandler())
			protected.GET("/portfolio", a.portfolio.GetPortfolioHandler())
			protected.POST("/trade", a.trading.TradeHandler())
			protected.GET("/transactions", a.trading.TransactionsHandler())
		}
	}

	return router
}

// runServe runs the API server with graceful shutdown support
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to initialize database")
		return err
	}

	provider := newProvider(cfg)
	a := newApp(cfg, db, provider)

	// Background work stops with this context
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go a.janitor.Start(bgCtx)
	go a.limiter.Cleanup(bgCtx)
	go a.accounts.Cleanup(bgCtx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().
			Str("addr", srv.Addr).
			Str("provider", provider.Name()).
			Str("db_driver", cfg.DBDriver).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		zlog.Error().Err(err).Msg("listen")
		return err
	}
	zlog.Info().Msg("Shutting down server...")

	bgCancel()
	a.stream.Close()

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zlog.Info().Msg("Server exiting")
	return nil
}
