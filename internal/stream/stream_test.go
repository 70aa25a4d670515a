package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type stepQuoter struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (q *stepQuoter) FastQuote(ctx context.Context, symbol string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	q.prices[symbol] = p * 1.1
	return p, nil
}

func newServer(t *testing.T, s *Streamer) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/prices", s.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prices?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestParseSymbols(t *testing.T) {
	got := ParseSymbols(" aapl,MSFT,,aapl, tsla ")
	want := []string{"AAPL", "MSFT", "TSLA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseSymbols() = %v, want %v", got, want)
	}
}

func TestStreamPushesUpdates(t *testing.T) {
	s := NewStreamer(&stepQuoter{prices: map[string]float64{"AAPL": 100}}, 10*time.Millisecond, nil)
	defer s.Close()
	conn := dial(t, newServer(t, s), "symbols=aapl,NOPE")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second PriceUpdate
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}

	if first.Symbol != "AAPL" || first.Price != 100 || first.Change != 0 {
		t.Errorf("unexpected first update %+v", first)
	}
	if second.Change != 10 {
		t.Errorf("expected 10%% change, got %+v", second)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestStreamRejectsMissingSymbols(t *testing.T) {
	s := NewStreamer(&stepQuoter{}, time.Second, nil)
	defer s.Close()
	srv := newServer(t, s)

	resp, err := http.Get(srv.URL + "/ws/prices")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	s := NewStreamer(&stepQuoter{prices: map[string]float64{"AAPL": 1}}, time.Second, []string{"http://localhost:3000"})
	defer s.Close()
	srv := newServer(t, s)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prices?symbols=AAPL"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s := NewStreamer(&stepQuoter{prices: map[string]float64{"AAPL": 1}}, 10*time.Millisecond, nil)
	conn := dial(t, newServer(t, s), "symbols=AAPL")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u PriceUpdate
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}

	s.Close()

	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("expected going-away close, got %v", err)
		}
		break
	}
}

func TestSubscribeAfterCloseIsRejected(t *testing.T) {
	s := NewStreamer(&stepQuoter{prices: map[string]float64{"AAPL": 1}}, time.Second, nil)
	srv := newServer(t, s)

	// Close racing new subscriptions must never panic the WaitGroup
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.track() {
				s.wg.Done()
			}
		}()
	}
	s.Close()
	wg.Wait()

	if s.track() {
		t.Fatal("expected track to refuse after Close")
	}

	resp, err := http.Get(srv.URL + "/ws/prices?symbols=AAPL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after Close, got %d", resp.StatusCode)
	}
}
