// Package stream pushes live prices to websocket clients.
package stream

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxSymbols caps the symbols of one subscription
const MaxSymbols = 20

const (
	writeWait  = 5 * time.Second
	quoteWait  = 3 * time.Second
	closeGrace = time.Second
)

// PriceUpdate is one pushed quote. Change is the percent move since the
// previous update for the symbol.
type PriceUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// Quoter returns the last traded price of a symbol
type Quoter interface {
	FastQuote(ctx context.Context, symbol string) (float64, error)
}

// Streamer serves price subscriptions
type Streamer struct {
	quoter   Quoter
	interval time.Duration
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and wg.Add against Close
	closed bool
	wg     sync.WaitGroup
}

// NewStreamer creates a streamer that quotes every interval. Browser
// connections are accepted from allowedOrigins only; "*" allows any.
func NewStreamer(quoter Quoter, interval time.Duration, allowedOrigins []string) *Streamer {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		quoter:   quoter,
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		ctx:      ctx,
		cancel:   cancel,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no origin
		if origin == "" || set["*"] {
			return true
		}
		return set[origin]
	}
}

// Close ends every open subscription and waits for them to finish
func (s *Streamer) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// track registers a subscription unless the streamer is closed
func (s *Streamer) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// ParseSymbols splits a comma separated list into unique normalized symbols
func ParseSymbols(raw string) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		sym := marketdata.NormalizeSymbol(part)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	return symbols
}

// Handler handles GET /ws/prices?symbols=AAPL,MSFT
func (s *Streamer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbols := ParseSymbols(c.Query("symbols"))
		if len(symbols) == 0 {
			response.Handle(c, nil, apperror.ErrMissingFields.WithMessage("No symbols provided"))
			return
		}
		if len(symbols) > MaxSymbols {
			response.Handle(c, nil, apperror.ErrMissingFields.WithMessage("At most %d symbols per subscription", MaxSymbols))
			return
		}

		if !s.track() {
			response.Handle(c, nil, apperror.ErrServiceUnavailable.WithMessage("Price stream is shutting down"))
			return
		}
		defer s.wg.Done()

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already answered the client
			log.Warn().Err(err).Str("component", "stream").Msg("websocket upgrade failed")
			return
		}
		s.serve(conn, symbols)
	}
}

func (s *Streamer) serve(conn *websocket.Conn, symbols []string) {
	defer conn.Close()

	logger := log.With().
		Str("component", "stream").
		Str("remote", conn.RemoteAddr().String()).
		Strs("symbols", symbols).
		Logger()
	logger.Info().Msg("client subscribed")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Reading is required to process pings and the client's close frame
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := make(map[string]float64, len(symbols))
	for {
		if err := s.push(ctx, conn, symbols, last, logger); err != nil {
			logger.Info().Err(err).Msg("client disconnected")
			return
		}

		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			}
			logger.Info().Msg("subscription closed")
			return
		case <-ticker.C:
		}
	}
}

func (s *Streamer) push(ctx context.Context, conn *websocket.Conn, symbols []string, last map[string]float64, logger zerolog.Logger) error {
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return nil
		}

		qctx, cancel := context.WithTimeout(ctx, quoteWait)
		price, err := s.quoter.FastQuote(qctx, sym)
		cancel()
		if err != nil {
			logger.Debug().Err(err).Str("symbol", sym).Msg("quote skipped")
			continue
		}

		update := PriceUpdate{
			Symbol:    sym,
			Price:     price,
			Timestamp: time.Now().UTC(),
		}
		if prev, ok := last[sym]; ok && prev != 0 {
			update.Change = math.Round((price-prev)/prev*100*100) / 100
		}
		last[sym] = price

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(update); err != nil {
			return err
		}
	}
	return nil
}
