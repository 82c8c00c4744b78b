package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is the session handle against the terminal-hosted data service.
// One client instance serves all requests of a fetch run; callers own
// Connect/Disconnect around the run.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	// FetchSnapshot retrieves point-in-time reference data.
	FetchSnapshot(ctx context.Context, securities, fields []string) (RawPayload, error)
	// FetchTimeSeries retrieves daily history between start and end (inclusive).
	FetchTimeSeries(ctx context.Context, securities, fields []string, start, end time.Time, frequency string) (RawPayload, error)
	// Batch chunks securities into batchSize groups with delay between
	// requests and concatenates the responses.
	Batch(ctx context.Context, securities, fields []string, batchSize int, delay time.Duration) (RawPayload, error)
}

// Observation is one raw value for a (security, field) column. Value is kept
// as text until the pipeline coerces it; the gateway passes through whatever
// the terminal returned.
type Observation struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Value string `json:"value"`
}

// RawPayload is the provider-shaped response: wide and sparse, keyed by
// "<security ticker>_<FIELD>".
type RawPayload struct {
	Columns map[string][]Observation `json:"columns"`
}

// Empty reports whether the payload carries no observations at all.
func (p RawPayload) Empty() bool {
	for _, obs := range p.Columns {
		if len(obs) > 0 {
			return false
		}
	}
	return true
}

// Merge appends the columns of other into p.
func (p *RawPayload) Merge(other RawPayload) {
	if p.Columns == nil {
		p.Columns = make(map[string][]Observation, len(other.Columns))
	}
	for key, obs := range other.Columns {
		p.Columns[key] = append(p.Columns[key], obs...)
	}
}

// ErrEmptyResponse indicates the terminal answered with no data; treated as
// transient because it usually means the session dropped mid-request.
var ErrEmptyResponse = errors.New("terminal: empty response")

// TransientError wraps failures worth retrying at the target level.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("terminal: transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrEmptyResponse)
}

// ConnectError marks a failure to establish the initial session. The whole
// run is abandoned on this error; individual requests never return it.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("terminal: connect failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
