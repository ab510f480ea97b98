package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CanonicalResult is the shape every Fetcher maps its provider-native
// response into before a Chain returns it.
type CanonicalResult struct {
	Fields map[string]float64
	Source string
}

// Fetcher fetches one logical datum from one concrete provider.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (CanonicalResult, error)
}

// Validator checks a canonical result's fields fall within a sane band
// before the Chain accepts it (e.g. a BTC price of 0 or 10_000_000 is
// rejected even though the HTTP call itself succeeded).
type Validator func(CanonicalResult) error

// Chain is the Fallback Chain (C6): an ordered list of Fetchers attempted
// in turn for one logical datum, skipping providers whose circuit is open
// and validating the first field-shaped success before returning it.
// Grounded on internal/provider/fallback_chain.go's ProviderChain.
type Chain struct {
	name       string
	fetchers   []Fetcher
	validators []Validator
}

// NewChain builds a Chain; it panics if given no fetchers, matching the
// teacher's NewProviderChain contract that an empty chain is a programming
// error, not a runtime condition.
func NewChain(name string, fetchers []Fetcher, validators ...Validator) *Chain {
	if len(fetchers) == 0 {
		panic("marketdata: chain " + name + " constructed with no fetchers")
	}
	return &Chain{name: name, fetchers: fetchers, validators: validators}
}

// Fetch attempts each fetcher in order until one succeeds and validates, or
// every fetcher has been exhausted.
func (c *Chain) Fetch(ctx context.Context) (CanonicalResult, error) {
	var failures []error

	for _, fetcher := range c.fetchers {
		if ctx.Err() != nil {
			return CanonicalResult{}, &ProviderError{Code: ErrCodeDeadline, Provider: c.name, Message: "deadline exceeded before exhausting chain"}
		}

		result, err := fetcher.Fetch(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", fetcher.Name(), err))
			continue
		}
		result.Source = fetcher.Name()

		if verr := c.validate(result); verr != nil {
			failures = append(failures, fmt.Errorf("%s: %w", fetcher.Name(), verr))
			continue
		}
		return result, nil
	}

	return CanonicalResult{}, &ProviderError{
		Code:     ErrCodeChainExhausted,
		Provider: c.name,
		Message:  fmt.Sprintf("all %d providers failed: %s", len(c.fetchers), joinFailures(failures)),
		Cause:    errors.Join(failures...),
	}
}

// joinFailures names every provider and its failure reason, per the
// aggregate-error-on-exhaustion requirement — a caller debugging a failed
// chain must not have to guess which providers were even tried.
func joinFailures(failures []error) string {
	reasons := make([]string, len(failures))
	for i, f := range failures {
		reasons[i] = f.Error()
	}
	return strings.Join(reasons, "; ")
}

func (c *Chain) validate(result CanonicalResult) error {
	for _, v := range c.validators {
		if err := v(result); err != nil {
			return err
		}
	}
	return nil
}

// FetchWithDeadline wraps Fetch with a bounded per-chain deadline, per
// spec.md's ~8s-per-chain Aggregator budget.
func (c *Chain) FetchWithDeadline(ctx context.Context, d time.Duration) (CanonicalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return c.Fetch(ctx)
}
