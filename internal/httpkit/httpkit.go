// Package httpkit builds the HTTP clients used for every outbound call:
// model providers, embeddings, web search and page fetches. Clients share
// transport timeouts and a User-Agent, and can opt into retries and
// client-side rate limiting for third-party APIs with quotas.
package httpkit

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/zealscott/autoprofiler/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultResponseHeader      = 15 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a client built by NewClient.
type ClientOption func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	transport *http.Transport
	retries   int
	backoff   time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it; model
// providers use that and bound long generations with ctx instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithTransport replaces the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *options) { o.transport = t }
}

// WithRetry retries up to count times with exponential backoff starting
// at backoff. Connection failures are retried for any request whose body
// can be rewound; 429 and 5xx responses only for GET and HEAD.
func WithRetry(count int, backoff time.Duration) ClientOption {
	return func(o *options) {
		o.retries = count
		o.backoff = backoff
	}
}

// WithRateLimit allows one request per interval with the given burst,
// shared by every request made through the client. Waiting honors the
// request context.
func WithRateLimit(interval time.Duration, burst int) ClientOption {
	return func(o *options) { o.limiter = rate.NewLimiter(rate.Every(interval), burst) }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewTransport returns an http.Transport with explicit dial, TLS and
// header timeouts.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with a 30s default timeout and the
// AutoProfiler User-Agent. Round trippers are layered so the rate limit
// applies to every attempt, retries included.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{
		timeout:   30 * time.Second,
		userAgent: buildinfo.UserAgent(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var base http.RoundTripper = o.transport
	if o.transport == nil {
		base = NewTransport()
	}

	rt := http.RoundTripper(&userAgentTransport{next: base, ua: o.userAgent})
	if o.limiter != nil {
		rt = &limitTransport{next: rt, limiter: o.limiter}
	}
	if o.retries > 0 {
		rt = &retryTransport{
			next:    rt,
			retries: o.retries,
			backoff: o.backoff,
			logger:  o.logger,
			sleep:   sleepCtx,
		}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// IsRetryableStatus reports HTTP statuses worth another attempt: rate
// limiting and server-side failures.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes of an error response, then
// drains and closes the rest.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
