package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"FightEngine/internal/model"
	"FightEngine/internal/observability"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMetrics = observability.NewMetrics()

func priceServer(t *testing.T, hits *atomic.Int64, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/prices", r.URL.Path)
		json.NewEncoder(w).Encode([]model.PriceQuote{
			{Symbol: "BTCUSDT", Mark: decimal.NewFromInt(50000)},
			{Symbol: "ETHUSDT", Mark: decimal.NewFromInt(3000)},
		})
	}))
}

func TestPricesFetchAndCache(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	server := priceServer(t, &hits, &fail)
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Minute, testMetrics)

	marks, err := client.Prices(context.Background())
	require.NoError(t, err)
	assert.True(t, marks["BTCUSDT"].Equal(decimal.NewFromInt(50000)))
	assert.True(t, marks["ETHUSDT"].Equal(decimal.NewFromInt(3000)))

	// Second call inside the TTL must not hit the network.
	_, err = client.Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestPricesRefetchAfterTTL(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	server := priceServer(t, &hits, &fail)
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Millisecond, testMetrics)

	_, err := client.Prices(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = client.Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestPricesServesStaleOnFailure(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	server := priceServer(t, &hits, &fail)
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Millisecond, testMetrics)

	warm, err := client.Prices(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	time.Sleep(5 * time.Millisecond)

	stale, err := client.Prices(context.Background())
	require.NoError(t, err, "warm cache must absorb a failed refresh")
	assert.True(t, stale["BTCUSDT"].Equal(warm["BTCUSDT"]))
}

func TestPricesColdFailureIsError(t *testing.T) {
	var hits atomic.Int64
	var fail atomic.Bool
	fail.Store(true)
	server := priceServer(t, &hits, &fail)
	defer server.Close()

	client := NewClient(server.URL, time.Second, time.Minute, testMetrics)

	_, err := client.Prices(context.Background())
	assert.Error(t, err)
}
