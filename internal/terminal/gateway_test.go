package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testGateway(t *testing.T, srv *httptest.Server) *Gateway {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	g := NewGateway(GatewayOptions{
		Host:           u.Hostname(),
		Port:           port,
		Timeout:        time.Second,
		ConnectRetries: 2,
		ConnectBackoff: time.Millisecond,
	}, noopLogger())
	g.sleep = func(time.Duration) {}
	return g
}

func TestGatewayConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
}

func TestGatewayConnectRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	err := g.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}

	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected ConnectError, got %T", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestGatewayFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refdata" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req refdataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Securities) != 1 || req.Securities[0] != "QQQ US Equity" {
			t.Errorf("unexpected securities %v", req.Securities)
		}

		_ = json.NewEncoder(w).Encode(gatewayResponse{
			Columns: map[string][]Observation{
				"QQQ US Equity_PX_LAST": {{Date: "2025-08-29", Value: "480.5"}},
			},
		})
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	payload, err := g.FetchSnapshot(context.Background(), []string{"QQQ US Equity"}, []string{"PX_LAST"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	obs := payload.Columns["QQQ US Equity_PX_LAST"]
	if len(obs) != 1 || obs[0].Value != "480.5" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestGatewayServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	_, err := g.FetchSnapshot(context.Background(), []string{"X"}, []string{"PX_LAST"})
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestGatewayClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	_, err := g.FetchSnapshot(context.Background(), []string{"X"}, []string{"PX_LAST"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("4xx should not be transient: %v", err)
	}
}

func TestGatewayEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayResponse{Columns: map[string][]Observation{}})
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	_, err := g.FetchSnapshot(context.Background(), []string{"X"}, []string{"PX_LAST"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGatewayErrorFieldIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayResponse{Error: "session lost"})
	}))
	defer srv.Close()

	g := testGateway(t, srv)
	_, err := g.FetchSnapshot(context.Background(), []string{"X"}, []string{"PX_LAST"})
	if !IsTransient(err) {
		t.Fatalf("gateway error should be transient, got %v", err)
	}
}

func TestGatewayBatchChunksAndMerges(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req refdataRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		batchSizes = append(batchSizes, len(req.Securities))

		columns := make(map[string][]Observation)
		for _, sec := range req.Securities {
			columns[sec+"_PX_LAST"] = []Observation{{Date: "2025-08-29", Value: "1"}}
		}
		_ = json.NewEncoder(w).Encode(gatewayResponse{Columns: columns})
	}))
	defer srv.Close()

	securities := []string{"A", "B", "C", "D", "E"}

	g := testGateway(t, srv)
	payload, err := g.Batch(context.Background(), securities, []string{"PX_LAST"}, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(batchSizes) != 3 || batchSizes[0] != 2 || batchSizes[2] != 1 {
		t.Fatalf("unexpected chunking %v", batchSizes)
	}
	if len(payload.Columns) != 5 {
		t.Fatalf("expected 5 merged columns, got %d", len(payload.Columns))
	}
}
