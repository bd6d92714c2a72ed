package capture

import (
	"errors"
	"fmt"
)

// ErrRateLimited is the sentinel the capture primitive returns (possibly
// wrapped) when the underlying screenshot quota is exhausted. It is the
// only capture error the engine retries.
var ErrRateLimited = errors.New("capture rate limited")

// DimensionQueryError indicates page metrics could not be obtained from
// the target tab. It aborts a capture before any tile is taken.
type DimensionQueryError struct {
	TabID int
	Err   error
}

func (e *DimensionQueryError) Error() string {
	return fmt.Sprintf("failed to query page dimensions for tab %d: %v", e.TabID, e.Err)
}

func (e *DimensionQueryError) Unwrap() error { return e.Err }

// RateLimitExceededError indicates the capture primitive's rate limit was
// still exhausted after the engine's bounded retries. The session is
// aborted and no partial batch is sent.
type RateLimitExceededError struct {
	Tile     int
	Attempts int
	Err      error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("capture rate limit exceeded on tile %d after %d attempts: %v", e.Tile, e.Attempts, e.Err)
}

func (e *RateLimitExceededError) Unwrap() error { return e.Err }

// EndpointSubmissionError indicates the outbound batch POST failed,
// either at the transport level or with a non-2xx response.
type EndpointSubmissionError struct {
	Endpoint   string
	StatusCode int // 0 when the request never completed
	Reason     string
	Err        error
}

func (e *EndpointSubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("batch submission to %s failed: %d %s", e.Endpoint, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("batch submission to %s failed: %v", e.Endpoint, e.Err)
}

func (e *EndpointSubmissionError) Unwrap() error { return e.Err }
