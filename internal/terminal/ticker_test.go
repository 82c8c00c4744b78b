package terminal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBuildOptionTicker(t *testing.T) {
	expiry := time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)

	got := BuildOptionTicker("QQQ", "US", expiry, "C", decimal.NewFromInt(490))
	want := "QQQ US 10/03/25 C490 Equity"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildOptionTickerFractionalStrike(t *testing.T) {
	expiry := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)

	got := BuildOptionTicker("AAPL", "US", expiry, "P", decimal.NewFromFloat(182.5))
	want := "AAPL US 01/17/25 P182.5 Equity"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEquityTicker(t *testing.T) {
	if got := EquityTicker("MSFT", "US"); got != "MSFT US Equity" {
		t.Fatalf("got %q", got)
	}
}

func TestOptionChainTickers(t *testing.T) {
	expiry := time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)
	low := decimal.NewFromInt(480)
	high := decimal.NewFromInt(490)
	step := decimal.NewFromInt(5)

	tickers := OptionChainTickers("QQQ", "US", expiry, low, high, step)

	// 3 strikes, call and put each.
	if len(tickers) != 6 {
		t.Fatalf("expected 6 tickers, got %d: %v", len(tickers), tickers)
	}
	if tickers[0] != "QQQ US 10/03/25 C480 Equity" {
		t.Fatalf("unexpected first ticker %q", tickers[0])
	}
	if tickers[5] != "QQQ US 10/03/25 P490 Equity" {
		t.Fatalf("unexpected last ticker %q", tickers[5])
	}
}

func TestOptionChainTickersInvalidWindow(t *testing.T) {
	expiry := time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)

	if got := OptionChainTickers("QQQ", "US", expiry, decimal.NewFromInt(500), decimal.NewFromInt(480), decimal.NewFromInt(5)); got != nil {
		t.Fatalf("inverted window should produce no tickers, got %v", got)
	}
	if got := OptionChainTickers("QQQ", "US", expiry, decimal.NewFromInt(480), decimal.NewFromInt(500), decimal.Zero); got != nil {
		t.Fatalf("zero interval should produce no tickers, got %v", got)
	}
}

func TestKnownFieldsDeduplicated(t *testing.T) {
	seen := make(map[string]bool)
	for _, f := range KnownFields {
		if seen[f] {
			t.Fatalf("duplicate field %q", f)
		}
		seen[f] = true
	}
	for _, f := range OptionFields {
		if !seen[f] {
			t.Fatalf("option field %q missing from KnownFields", f)
		}
	}
	for _, f := range EquityFields {
		if !seen[f] {
			t.Fatalf("equity field %q missing from KnownFields", f)
		}
	}
}
