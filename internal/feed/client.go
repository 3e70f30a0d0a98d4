// Package feed pulls current mark/oracle prices from the externally
// owned price service. Quotes are cached for a short TTL so every fight
// processed within one tick shares a single fetch.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"FightEngine/internal/model"
	"FightEngine/internal/observability"

	"github.com/shopspring/decimal"
)

// Client is a pull-based price feed adapter.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	metrics *observability.Metrics

	mu        sync.Mutex
	cached    map[string]decimal.Decimal
	fetchedAt time.Time
}

func NewClient(baseURL string, timeout, ttl time.Duration, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		ttl:     ttl,
		metrics: metrics,
	}
}

// Prices returns the current mark price per symbol. Within the TTL the
// cached map is returned without a network round trip. On fetch failure
// with a warm cache, the stale map is returned rather than an error: a
// slightly old mark beats no mark for a single tick.
func (c *Client) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	quotes, err := c.fetch(ctx)
	if err != nil {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	marks := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		marks[q.Symbol] = q.Mark
	}

	c.cached = marks
	c.fetchedAt = time.Now()
	return marks, nil
}

func (c *Client) fetch(ctx context.Context) ([]model.PriceQuote, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prices", nil)
	if err != nil {
		return nil, fmt.Errorf("price request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.PriceFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("price fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.PriceFetches.WithLabelValues("bad_status").Inc()
		return nil, fmt.Errorf("price fetch: unexpected status %d", resp.StatusCode)
	}

	var quotes []model.PriceQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		c.metrics.PriceFetches.WithLabelValues("bad_body").Inc()
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	c.metrics.PriceFetches.WithLabelValues("ok").Inc()
	c.metrics.PriceFetchDur.Observe(time.Since(start).Seconds())
	return quotes, nil
}
