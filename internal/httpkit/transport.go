package httpkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// maxRetryAfter caps how long a server may ask us to wait.
const maxRetryAfter = 30 * time.Second

type userAgentTransport struct {
	next http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(req)
}

type limitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return t.next.RoundTrip(req)
}

type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	delay := t.backoff
	for attempt := 0; ; attempt++ {
		attemptReq := req
		if attempt > 0 {
			var err error
			if attemptReq, err = rewind(req); err != nil {
				return nil, err
			}
		}

		resp, err := t.next.RoundTrip(attemptReq)
		wait, retry := t.shouldRetry(req, resp, err, delay)
		if !retry || attempt >= t.retries {
			return resp, err
		}
		if resp != nil {
			DrainAndClose(resp.Body, 64*1024)
		}

		t.logger.Debug("retrying request",
			"method", req.Method,
			"host", req.URL.Host,
			"attempt", attempt+1,
			"wait", wait,
			"status", statusOf(resp),
			"error", err,
		)
		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

// shouldRetry decides whether the outcome of one attempt is worth
// another and how long to wait first.
func (t *retryTransport) shouldRetry(req *http.Request, resp *http.Response, err error, delay time.Duration) (time.Duration, bool) {
	if err != nil {
		if !isDialError(err) || !rewindable(req) {
			return 0, false
		}
		return delay, true
	}
	if !idempotent(req.Method) || !IsRetryableStatus(resp.StatusCode) {
		return 0, false
	}
	if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
		return d, true
	}
	return delay, true
}

// isDialError reports failures that happen before any byte reaches the
// server. ECONNRESET is excluded since the request may have been seen.
func isDialError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
	}
	return false
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("retry: rewind body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date, capped at maxRetryAfter.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}
	return min(max(d, 0), maxRetryAfter), true
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
