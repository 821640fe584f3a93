// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/time/rate"
)

// avgRequestCost is the average number of compute units a single request is
// billed by hosted providers.
const avgRequestCost = 17

var (
	retryMeter       = metrics.NewRegisteredMeter("fork/remote/retry", nil)
	rateLimitedMeter = metrics.NewRegisteredMeter("fork/remote/ratelimited", nil)
)

// errRetryableStatus is returned by an attempt whose response asks the client
// to try again later.
var errRetryableStatus = errors.New("retryable response")

// retryTransport is an http.RoundTripper that rate limits outgoing requests by
// the endpoint's compute unit budget and retries transient failures with an
// exponential backoff.
// retryTransport 是一个 http.RoundTripper：按端点的计算单元预算对请求限速，并以指数退避重试暂时性失败。
type retryTransport struct {
	base    http.RoundTripper
	cfg     Config
	limiter *rate.Limiter
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	limit := rate.Inf
	burst := 1
	if cfg.ComputeUnitsPerSecond > 0 {
		perSecond := float64(cfg.ComputeUnitsPerSecond) / avgRequestCost
		limit = rate.Limit(perSecond)
		if perSecond > 1 {
			burst = int(perSecond)
		}
	}
	return &retryTransport{
		base:    base,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// The rpc client hands over a body without GetBody, buffer it so every
	// attempt can resend it.
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
		req.Body.Close()
	}
	var (
		ctx     = req.Context()
		last    *http.Response
		attempt int
	)
	op := func() error {
		attempt++
		if err := t.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := t.attempt(ctx, req, body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if retryable(resp) {
			last = resp
			return fmt.Errorf("%w: %s", errRetryableStatus, resp.Status)
		}
		last = resp
		return nil
	}
	notify := func(err error, wait time.Duration) {
		retryMeter.Mark(1)
		log.Debug("Retrying fork RPC request", "url", req.URL.Host, "attempt", attempt, "err", err, "wait", wait)
	}
	err := backoff.RetryNotify(op, newBackoff(ctx, t.cfg), notify)
	if last != nil {
		// Either success or retries exhausted on a retryable response, in which
		// case the rpc layer turns the last response into a proper error.
		return last, nil
	}
	return nil, err
}

// attempt sends one copy of the request. The response body is fully read so
// it can be inspected for rate limiting errors and the attempt's timeout
// released.
func (t *retryTransport) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// retryable reports whether the response signals a transient condition.
func retryable(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		rateLimitedMeter.Mark(1)
		return true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case http.StatusOK:
	default:
		return false
	}
	// Some providers report throttling inside a successful JSON-RPC response.
	data, err := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return false
	}
	var msg struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &msg) != nil || msg.Error == nil {
		return false
	}
	if isRateLimitError(msg.Error.Code, msg.Error.Message) {
		rateLimitedMeter.Mark(1)
		return true
	}
	return false
}

// isRateLimitError matches the error codes and messages hosted providers use
// when a request exceeded the caller's budget.
func isRateLimitError(code int, message string) bool {
	switch code {
	case 429, -32005:
		return true
	}
	message = strings.ToLower(message)
	for _, needle := range []string{"rate limit", "too many requests", "compute units", "limit exceeded"} {
		if strings.Contains(message, needle) {
			return true
		}
	}
	return false
}
