package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// DefaultProxyTimeout bounds a forwarded request
const DefaultProxyTimeout = 10 * time.Second

// maxProxyBody caps how much of an upstream answer is relayed
const maxProxyBody = 10 << 20

// Proxy forwards requests to the data service and relays its answer
type Proxy struct {
	baseURL string
	client  *http.Client
}

func NewProxy(baseURL string, timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	return &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Forward performs GET path with query against the data service and writes
// its status and body to c. An unreachable service yields 503.
func (p *Proxy) Forward(c *gin.Context, path string, query map[string]string) {
	status, contentType, body, err := p.get(c.Request.Context(), path, query)
	if err != nil {
		log.Error().
			Err(err).
			Str("component", "proxy").
			Str("path", path).
			Msg("data service unreachable")
		response.Handle(c, nil, apperror.ErrServiceUnavailable.Wrap(err))
		return
	}

	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, body)
}

func (p *Proxy) get(ctx context.Context, path string, query map[string]string) (int, string, []byte, error) {
	u, err := url.Parse(p.baseURL + path)
	if err != nil {
		return 0, "", nil, fmt.Errorf("build data service url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBody))
	if err != nil {
		return 0, "", nil, fmt.Errorf("read data service response: %w", err)
	}

	log.Debug().
		Str("component", "proxy").
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Msg("data service answered")
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}
