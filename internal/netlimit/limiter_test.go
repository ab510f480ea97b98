package netlimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireSpacesRequests(t *testing.T) {
	l := NewLimiter()
	l.Configure("coingecko_btc_price", 50*time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	if err := l.Acquire(ctx, "coingecko_btc_price"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx, "coingecko_btc_price"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("expected second acquire to wait out the interval, elapsed=%v", elapsed)
	}
}

func TestLimiter_ForcedOpenFailsFast(t *testing.T) {
	l := NewLimiter()
	l.Configure("fear_greed_index", time.Millisecond)
	l.OpenBreaker("fear_greed_index", 50*time.Millisecond)

	if err := l.Acquire(context.Background(), "fear_greed_index"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := l.Acquire(context.Background(), "fear_greed_index"); err != nil {
		t.Fatalf("expected breaker to auto-reset after duration, got %v", err)
	}
}

func TestLimiter_AcquireHonorsContextCancellation(t *testing.T) {
	l := NewLimiter()
	l.Configure("taapi_rsi", time.Second)
	_ = l.Acquire(context.Background(), "taapi_rsi")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "taapi_rsi"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestLimiter_StatusAllReflectsConfiguredEndpoints(t *testing.T) {
	l := NewLimiter()
	l.Configure("coingecko_global", time.Second)
	l.Configure("binance_ticker", 3*time.Second)

	statuses := l.StatusAll()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(statuses))
	}
	if statuses["binance_ticker"].Interval != 3*time.Second {
		t.Errorf("unexpected interval: %v", statuses["binance_ticker"].Interval)
	}
}
