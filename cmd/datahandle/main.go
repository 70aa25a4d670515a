// Command datahandle serves the dashboard and comparison views on their own,
// for deployments where the API forwards them through DATAHANDLE_URL.
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
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/marketracker-api/internal/analytics"
	"github.com/ksred/marketracker-api/internal/cache"
	"github.com/ksred/marketracker-api/internal/config"
	"github.com/ksred/marketracker-api/internal/market"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/pkg/middleware"
)

func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	cfg, err := config.LoadDataService()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var provider marketdata.Provider = marketdata.NewYahooClient(cfg.MarketDataBaseURL, 10*time.Second)
	if cfg.MarketDataProvider == "simulated" {
		provider = marketdata.NewSimulated(marketdata.DefaultVenue, time.Now().UnixNano())
	}

	memo := cache.NewMemoizer(cache.NewMemory(cfg.CacheTTL, 10*time.Minute))
	svc := analytics.NewService(provider, memo, analytics.Options{
		CacheTTL:    cfg.CacheTTL,
		ForecastTTL: cfg.ForecastTTL,
	})

	// Port defaults to 5001 so both services can run side by side
	port := os.Getenv("DATAHANDLE_PORT")
	if port == "" {
		port = "5001"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           setupRouter(svc, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("addr", srv.Addr).Str("provider", provider.Name()).Msg("data service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down data service...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Data service forced to shutdown")
	}
	zlog.Info().Msg("Data service exiting")
}

func setupRouter(svc *analytics.Service, origins []string) *gin.Engine {
	handlers := market.NewGinHandlers(svc, nil)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(origins))

	router.GET("/testbackend", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Test backend is working!"})
	})

	api := router.Group("/api")
	{
		api.GET("/dashboard/:symbol", handlers.DashboardHandler())
		api.GET("/comparison/:symbol", handlers.ComparisonHandler())
	}
	return router
}
