package telegram

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// retryTransport retries requests that fail at the network level or
// come back with a retry-safe status (429, 500, 502, 503, 504), with
// exponential backoff between attempts.
type retryTransport struct {
	base     http.RoundTripper
	attempts int
	backoff  time.Duration
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	for attempt := 0; attempt < t.attempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff << (attempt - 1)
			slog.Debug("retrying request", "url", req.URL.Path, "attempt", attempt+1, "delay", delay)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
			if req.Body != nil && req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				req.Body = body
			}
		}
		resp, err = t.base.RoundTrip(req)
		if err != nil {
			// Requests with a non-replayable body cannot be retried.
			if req.Body != nil && req.GetBody == nil {
				return nil, err
			}
			continue
		}
		if !retryableStatus(resp.StatusCode) || attempt == t.attempts-1 {
			return resp, nil
		}
		// Drain so the connection can be reused before the next attempt.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return resp, err
}
