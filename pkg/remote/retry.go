package remote

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// retryPolicy replays a request with exponential backoff on network errors,
// 429 and 5xx. Other 4xx responses are returned on the first attempt.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func (p retryPolicy) do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	attempts := max(p.attempts, 1)
	wait := p.backoff
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	var (
		last    *http.Response
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Debug("retrying request", "method", req.Method, "url", req.URL.Redacted(), "attempt", attempt, "wait", wait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			wait *= 2
		}
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
			req.ContentLength = int64(len(payload))
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last, lastErr = nil, err
			continue
		}
		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		last, lastErr = resp, nil
	}

	if lastErr != nil {
		logger.Warn("request failed", "method", req.Method, "url", req.URL.Redacted(), "attempts", attempts, "err", lastErr)
		return nil, lastErr
	}
	// body already drained
	last.Body = io.NopCloser(bytes.NewReader(nil))
	return last, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
