package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// retryPolicy tunes how the REST client treats transient failures.
// Session-lifecycle calls ride on a visitor interaction, so the waits
// stay short; anything slower belongs to the pollers.
type retryPolicy struct {
	retries int           // attempts after the first try
	base    time.Duration // first wait, doubling per attempt
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{retries: 3, base: 500 * time.Millisecond}
}

// delay returns the jittered wait before retry n (1-based). Jitter up
// to half the step keeps widgets on many tabs from retrying in
// lockstep.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.base << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(d/2+1)))
}

// transientStatus reports whether a response is worth retrying.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// statusError drains and closes a failed response so the connection
// can be reused, keeping a body snippet for the final error.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// send issues the request, retrying network errors, 5xx, and 429 per
// the client's policy. The caller owns the returned response body.
func (c *Client) send(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > c.retry.retries {
				return nil, fmt.Errorf("giving up after %d retries: %w", c.retry.retries, lastErr)
			}
			wait := c.retry.delay(attempt)
			c.logger.Warn("retrying request", "attempt", attempt, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if transientStatus(resp.StatusCode) {
			lastErr = statusError(resp)
			continue
		}
		return resp, nil
	}
}
