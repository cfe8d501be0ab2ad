// Package health implements the HTTP healthcheck prober (spec.md §4.5):
// bounded exponential backoff against a deadline, using time.Now()'s
// monotonic reading the way original_source/.../tools/health_tools.py uses
// time.monotonic(). Grounded on that module's retry loop shape.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"mcp-cicd-agent/internal/cicderr"
)

const perRequestTimeout = 5 * time.Second
const maxSleep = 10 * time.Second

// Result is the outcome of a healthcheck run.
type Result struct {
	Healthy      bool
	ResponseCode int
	Retries      int
	Error        string
}

// Options configures a healthcheck run; zero values take the documented
// defaults.
type Options struct {
	Timeout        time.Duration
	Interval       time.Duration
	Backoff        float64
	ExpectedStatus int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 1.5
	}
	if o.ExpectedStatus == 0 {
		o.ExpectedStatus = 200
	}
	return o
}

// Check polls url until it returns ExpectedStatus, the deadline elapses, or
// ctx is cancelled, sleeping Interval (multiplied by Backoff each attempt,
// capped at 10s) between attempts.
func Check(ctx context.Context, url string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	client := &http.Client{}

	deadline := time.Now().Add(opts.Timeout)
	interval := opts.Interval
	retries := 0
	var lastErr string
	var lastCode int

	for {
		reqCtx, cancel := context.WithTimeout(ctx, perRequestTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, cicderr.Wrap(cicderr.KindHealthCheck, err,
				"failed to construct healthcheck request", map[string]any{"url": url})
		}

		resp, err := client.Do(req)
		cancel()
		if err == nil {
			lastCode = resp.StatusCode
			resp.Body.Close()
			if lastCode == opts.ExpectedStatus {
				return &Result{Healthy: true, ResponseCode: lastCode, Retries: retries}, nil
			}
			lastErr = fmt.Sprintf("unexpected status code: %d", lastCode)
		} else {
			lastErr = err.Error()
		}

		if time.Now().After(deadline) {
			return &Result{Healthy: false, ResponseCode: lastCode, Retries: retries, Error: lastErr}, nil
		}

		select {
		case <-ctx.Done():
			return &Result{Healthy: false, ResponseCode: lastCode, Retries: retries, Error: ctx.Err().Error()}, nil
		case <-time.After(interval):
		}

		retries++
		interval = time.Duration(float64(interval) * opts.Backoff)
		if interval > maxSleep {
			interval = maxSleep
		}
	}
}
