// Package market exposes the read-only market data endpoints. Dashboard and
// comparison requests are answered locally or forwarded to a separate data
// service.
package market

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/internal/analytics"
	"github.com/ksred/marketracker-api/pkg/response"
)

const (
	defaultStockPeriod   = "1d"
	defaultStockInterval = "5m"
)

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	analytics *analytics.Service
	proxy     *Proxy
}

// NewGinHandlers creates the handlers. With a nil proxy every view is built
// in process.
func NewGinHandlers(svc *analytics.Service, proxy *Proxy) *GinHandlers {
	return &GinHandlers{
		analytics: svc,
		proxy:     proxy,
	}
}

// StockHandler handles GET /stock/:symbol?period=&interval=
func (h *GinHandlers) StockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period := c.DefaultQuery("period", defaultStockPeriod)
		interval := c.DefaultQuery("interval", defaultStockInterval)

		series, err := h.analytics.Stock(c.Request.Context(), c.Param("symbol"), period, interval)
		response.Handle(c, series, err)
	}
}

// DashboardHandler handles GET /dashboard/:symbol
func (h *GinHandlers) DashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if h.proxy != nil {
			h.proxy.Forward(c, "/api/dashboard/"+symbol, nil)
			return
		}

		dashboard, err := h.analytics.Dashboard(c.Request.Context(), symbol)
		response.Handle(c, dashboard, err)
	}
}

// ComparisonHandler handles GET /comparison/:symbol?period=
func (h *GinHandlers) ComparisonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		period := c.DefaultQuery("period", analytics.DefaultComparisonPeriod)
		if h.proxy != nil {
			h.proxy.Forward(c, "/api/comparison/"+symbol, map[string]string{"period": period})
			return
		}

		comparison, err := h.analytics.Comparison(c.Request.Context(), symbol, period)
		response.Handle(c, comparison, err)
	}
}
