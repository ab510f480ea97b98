package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	name   string
	result CanonicalResult
	err    error
}

func (f *fakeFetcher) Name() string { return f.name }
func (f *fakeFetcher) Fetch(context.Context) (CanonicalResult, error) {
	return f.result, f.err
}

func TestChain_ReturnsFirstSuccess(t *testing.T) {
	c := NewChain("btc_price", []Fetcher{
		&fakeFetcher{name: "primary", err: errors.New("down")},
		&fakeFetcher{name: "fallback", result: CanonicalResult{Fields: map[string]float64{"price_usd": 65000}}},
	})

	result, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
	assert.Equal(t, 65000.0, result.Fields["price_usd"])
}

func TestChain_ValidationRejectsOutOfBandResult(t *testing.T) {
	c := NewChain("btc_price", []Fetcher{
		&fakeFetcher{name: "bad", result: CanonicalResult{Fields: map[string]float64{"price_usd": -5}}},
	}, FieldInRange("price_usd", 0, 10_000_000))

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeChainExhausted, perr.Code)
}

func TestChain_ExhaustionReturnsChainExhausted(t *testing.T) {
	c := NewChain("btc_price", []Fetcher{
		&fakeFetcher{name: "a", err: errors.New("boom")},
		&fakeFetcher{name: "b", err: errors.New("boom")},
	})

	_, err := c.Fetch(context.Background())
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeChainExhausted, perr.Code)
}

func TestChain_PanicsWithNoFetchers(t *testing.T) {
	assert.Panics(t, func() {
		NewChain("empty", nil)
	})
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 1, int(calculateBackoff(1).Seconds()))
	assert.Equal(t, 2, int(calculateBackoff(2).Seconds()))
	assert.Equal(t, 4, int(calculateBackoff(3).Seconds()))
	assert.Equal(t, 60, int(calculateBackoff(10).Seconds()), "backoff caps at 60s")
}
