package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zealscott/autoprofiler/internal/config"
	"github.com/zealscott/autoprofiler/internal/httpkit"
)

// errorBodyLimit bounds how much of an error response is kept. Context
// overflow detection reads it, so it must hold the provider's message.
const errorBodyLimit = 4096

// endpoint is the JSON-over-HTTP plumbing shared by the provider
// clients. Each client owns one and only maps its wire types.
type endpoint struct {
	provider string
	baseURL  string
	header   http.Header
	client   *http.Client
	logger   *slog.Logger
}

// newEndpoint builds an endpoint whose client has no overall timeout:
// generations are bounded by ctx, and headerTimeout caps how long the
// provider may think before answering.
func newEndpoint(provider, baseURL string, header http.Header, headerTimeout time.Duration, logger *slog.Logger, opts ...httpkit.ClientOption) endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = headerTimeout

	opts = append([]httpkit.ClientOption{
		httpkit.WithTimeout(0),
		httpkit.WithTransport(t),
		httpkit.WithLogger(logger),
	}, opts...)

	return endpoint{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		header:   header,
		client:   httpkit.NewClient(opts...),
		logger:   logger.With("provider", provider),
	}
}

// call sends in as a JSON body (a GET when in is nil) and decodes a 2xx
// reply into out. A nil out discards the body. Other statuses return
// *APIError carrying the start of the body.
func (e endpoint) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", e.provider, err)
		}
		e.logger.Log(ctx, config.LevelTrace, "request payload", "path", path, "json", string(data))
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", e.provider, err)
	}
	for k, v := range e.header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", e.provider, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: e.provider, StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, errorBodyLimit)}
		e.logger.Debug("API error", "path", path, "status", apiErr.StatusCode, "body", apiErr.Body)
		return apiErr
	}
	if out == nil {
		httpkit.DrainAndClose(resp.Body, 64*1024)
		return nil
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", e.provider, err)
	}
	return nil
}

// received stamps the elapsed time on resp and logs it.
func (e endpoint) received(ctx context.Context, resp *ChatResponse, start time.Time) *ChatResponse {
	resp.Duration = time.Since(start)
	e.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", resp.Duration,
	)
	e.logger.Log(ctx, config.LevelTrace, "response content", "content", resp.Message.Content)
	return resp
}
