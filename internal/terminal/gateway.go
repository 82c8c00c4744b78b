package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	healthPath   = "/health"
	refdataPath  = "/refdata"
	histdataPath = "/histdata"
)

// GatewayOptions parameterise the gateway client.
type GatewayOptions struct {
	Host           string
	Port           int
	Timeout        time.Duration
	ConnectRetries int
	ConnectBackoff time.Duration
	UserAgent      string
}

// Gateway talks HTTP/JSON to the data gateway running beside the terminal.
// It implements Client; all calls block until the gateway drains the
// underlying provider session or the request times out.
type Gateway struct {
	opts      GatewayOptions
	logger    zerolog.Logger
	client    *http.Client
	baseURL   string
	connected bool

	sleep func(time.Duration)
}

// NewGateway constructs a gateway client.
func NewGateway(opts GatewayOptions, logger zerolog.Logger) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 8194
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = 3
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = 5 * time.Second
	}

	return &Gateway{
		opts:    opts,
		logger:  logger.With().Str("component", "terminal_gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: fmt.Sprintf("http://%s:%d", opts.Host, opts.Port),
		sleep:   time.Sleep,
	}
}

// Connect probes the gateway health endpoint with bounded retries. A failure
// here is fatal for the whole run.
func (g *Gateway) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= g.opts.ConnectRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+healthPath, nil)
		if err != nil {
			return &ConnectError{Err: err}
		}
		g.setHeaders(req)

		resp, err := g.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				g.connected = true
				g.logger.Info().Str("gateway", g.baseURL).Msg("connected to terminal gateway")
				return nil
			}
			err = fmt.Errorf("health returned status %d", resp.StatusCode)
		}

		lastErr = err
		g.logger.Warn().Err(err).Int("attempt", attempt).Int("max", g.opts.ConnectRetries).Msg("gateway connect attempt failed")

		if attempt < g.opts.ConnectRetries {
			select {
			case <-ctx.Done():
				return &ConnectError{Err: ctx.Err()}
			default:
			}
			g.sleep(g.opts.ConnectBackoff)
		}
	}
	return &ConnectError{Err: lastErr}
}

// Disconnect drops the logical session.
func (g *Gateway) Disconnect() {
	if g.connected {
		g.connected = false
		g.logger.Info().Msg("disconnected from terminal gateway")
	}
}

type refdataRequest struct {
	Securities []string `json:"securities"`
	Fields     []string `json:"fields"`
}

type histdataRequest struct {
	Securities []string `json:"securities"`
	Fields     []string `json:"fields"`
	StartDate  string   `json:"start_date"` // YYYYMMDD
	EndDate    string   `json:"end_date"`
	Frequency  string   `json:"frequency"`
}

type gatewayResponse struct {
	Columns map[string][]Observation `json:"columns"`
	Error   string                   `json:"error,omitempty"`
}

// FetchSnapshot retrieves point-in-time reference data.
func (g *Gateway) FetchSnapshot(ctx context.Context, securities, fields []string) (RawPayload, error) {
	payload := refdataRequest{Securities: securities, Fields: fields}
	return g.post(ctx, refdataPath, payload)
}

// FetchTimeSeries retrieves daily history between start and end.
func (g *Gateway) FetchTimeSeries(ctx context.Context, securities, fields []string, start, end time.Time, frequency string) (RawPayload, error) {
	if frequency == "" {
		frequency = "DAILY"
	}
	payload := histdataRequest{
		Securities: securities,
		Fields:     fields,
		StartDate:  start.Format("20060102"),
		EndDate:    end.Format("20060102"),
		Frequency:  frequency,
	}
	return g.post(ctx, histdataPath, payload)
}

// Batch chunks securities and concatenates the per-chunk snapshots. The
// delay between chunks throttles the stateful provider session.
func (g *Gateway) Batch(ctx context.Context, securities, fields []string, batchSize int, delay time.Duration) (RawPayload, error) {
	if batchSize <= 0 {
		batchSize = 20
	}

	var combined RawPayload
	for offset := 0; offset < len(securities); offset += batchSize {
		end := offset + batchSize
		if end > len(securities) {
			end = len(securities)
		}

		chunk, err := g.FetchSnapshot(ctx, securities[offset:end], fields)
		if err != nil {
			return RawPayload{}, err
		}
		combined.Merge(chunk)

		if end < len(securities) && delay > 0 {
			select {
			case <-ctx.Done():
				return RawPayload{}, ctx.Err()
			default:
			}
			g.sleep(delay)
		}
	}

	if combined.Empty() {
		return RawPayload{}, ErrEmptyResponse
	}
	return combined, nil
}

func (g *Gateway) post(ctx context.Context, path string, payload any) (RawPayload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return RawPayload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return RawPayload{}, err
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return RawPayload{}, &TransientError{Op: strings.TrimPrefix(path, "/"), Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawPayload{}, &TransientError{Op: strings.TrimPrefix(path, "/"), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, truncate(respBytes, 200))
		if resp.StatusCode >= http.StatusInternalServerError {
			return RawPayload{}, &TransientError{Op: strings.TrimPrefix(path, "/"), Err: err}
		}
		return RawPayload{}, err
	}

	var decoded gatewayResponse
	if err := json.Unmarshal(respBytes, &decoded); err != nil {
		return RawPayload{}, fmt.Errorf("decode gateway response: %w", err)
	}
	if decoded.Error != "" {
		return RawPayload{}, &TransientError{Op: strings.TrimPrefix(path, "/"), Err: fmt.Errorf("gateway error: %s", decoded.Error)}
	}

	result := RawPayload{Columns: decoded.Columns}
	if result.Empty() {
		return RawPayload{}, ErrEmptyResponse
	}
	return result, nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
