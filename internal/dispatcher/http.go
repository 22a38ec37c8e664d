package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPDispatcher delivers a webhook by making a real outbound HTTP request.
// Its client is wrapped with otelhttp so every dispatch produces a span
// correlated to the worker's trace, matching this module's observability
// conventions.
type HTTPDispatcher struct {
	client *http.Client
}

// NewHTTPDispatcher builds an HTTPDispatcher whose per-request timeout is
// enforced by the context passed to Dispatch, not by the client itself,
// since the worker derives that timeout from request_timeout per dispatch.
func NewHTTPDispatcher() *HTTPDispatcher {
	return &HTTPDispatcher{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, target string, payload []byte) (Result, error) {
	params, err := parseWebhookParameters(payload)
	if err != nil {
		return Result{}, &NonRetryableError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, params.Method, target, bytes.NewReader(params.Body))
	if err != nil {
		return Result{}, &NonRetryableError{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hookrelay-Delivery", uuid.NewString())
	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, &RetryableError{Err: fmt.Errorf("dispatching webhook: %w", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	result := Result{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return result, &RetryableError{Err: fmt.Errorf("webhook target returned %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return result, &RetryableError{Err: fmt.Errorf("webhook target returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return result, &NonRetryableError{Err: fmt.Errorf("webhook target returned %d", resp.StatusCode)}
	default:
		return result, &RetryableError{Err: fmt.Errorf("webhook target returned unexpected status %d", resp.StatusCode)}
	}
}

// parseRetryAfter supports the numeric-seconds form of Retry-After. The
// HTTP-date form is rare for webhook receivers and is treated as absent
// rather than guessed at.
func parseRetryAfter(header string) int64 {
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(header, 10, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

