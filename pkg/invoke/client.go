// Package invoke is the HTTP client for a locally running agent dev
// server. It POSTs a prompt to the server's invocation endpoint and
// either streams the response as Server-Sent Events or falls back to a
// single JSON/plain-text payload. Connection failures during the startup
// race are absorbed by exponential-backoff retry.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"agentdev/pkg/logx"
	"agentdev/pkg/metrics"
)

const (
	invocationPath = "/invocations"

	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxRetries = 5
)

// Client invokes a local agent dev server.
type Client struct {
	// HTTPClient performs the requests. The zero-value client has no
	// timeout, which streaming responses require.
	HTTPClient *http.Client

	// BaseDelay is the first retry delay; each retry doubles it.
	BaseDelay time.Duration

	// MaxRetries bounds connection-error retries.
	MaxRetries int

	logger *logx.Logger
}

// NewClient returns a client with the default retry policy (5 retries,
// 500ms base delay).
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{},
		BaseDelay:  defaultBaseDelay,
		MaxRetries: defaultMaxRetries,
		logger:     logx.NewLogger("invoke"),
	}
}

func (c *Client) log() *logx.Logger {
	if c.logger == nil {
		c.logger = logx.NewLogger("invoke")
	}
	return c.logger
}

// Invoke sends the prompt and returns the complete response text,
// assembled from the stream.
func (c *Client) Invoke(ctx context.Context, port int, prompt string) (string, error) {
	stream, err := c.Stream(ctx, port, prompt)
	if err != nil {
		metrics.Invocations.WithLabelValues(metrics.StatusError).Inc()
		return "", err
	}
	defer func() { _ = stream.Close() }()

	var b strings.Builder
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	if err := stream.Err(); err != nil {
		metrics.Invocations.WithLabelValues(metrics.StatusError).Inc()
		return "", err
	}
	metrics.Invocations.WithLabelValues(metrics.StatusOK).Inc()
	return b.String(), nil
}

// Stream sends the prompt and returns the response as a pull-based chunk
// iterator. The caller must Close the stream, including on early exit.
//
// Connection-level failures (server not yet listening) are retried with
// exponential backoff; any other failure is logged with full detail and
// returned immediately.
func (c *Client) Stream(ctx context.Context, port int, prompt string) (*Stream, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d%s", port, invocationPath)
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build invocation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", requestID)

		resp, err := c.HTTPClient.Do(req)
		if err == nil {
			return newStream(resp.Body), nil
		}

		if !isConnectionError(err) {
			c.log().Error("invocation request failed (port %d, request %s): %v", port, requestID, err)
			return nil, err
		}

		lastErr = err
		if attempt >= c.MaxRetries {
			break
		}

		delay := c.BaseDelay * (1 << attempt)
		c.log().Debug("connection not ready (attempt %d/%d), retrying in %s: %v",
			attempt+1, c.MaxRetries, delay, err)
		metrics.InvokeRetries.Inc()
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("dev server not reachable on port %d after %d retries: %w",
		port, c.MaxRetries, lastErr)
}

// isConnectionError classifies transport-level "server not listening"
// failures: connection refused, connection reset, or any dial error.
// Request building and parsing errors never match.
func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
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
