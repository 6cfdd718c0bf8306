// Package http provides a reusable HTTP client with resilience features.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

const (
	maxAttempts   = 5
	backoffStep   = 750 * time.Millisecond
	backoffCeil   = 6 * time.Second
	requestPerSec = 10
)

// APIError represents a non-2xx API response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer adds authentication to a request. body is the exact byte sequence
// that will be sent (nil for GET).
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// Client wraps http.Client with retry, rate limiting and request signing.
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	executor failsafe.Executor[*http.Response]
}

// NewClient creates a client for baseURL. Transient failures (network errors,
// 429, 502, 503, 504) are retried up to 5 attempts with a linear backoff
// capped at 6s. signer may be nil for public-only endpoints.
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			switch resp.StatusCode {
			case http.StatusTooManyRequests,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			}
			return false
		}).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[*http.Response]) time.Duration {
			delay := time.Duration(exec.Attempts()) * backoffStep
			if delay > backoffCeil {
				delay = backoffCeil
			}
			return delay
		}).
		WithMaxAttempts(maxAttempts).
		ReturnLastFailure().
		Build()

	return &Client{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		signer:   signer,
		limiter:  rate.NewLimiter(rate.Limit(requestPerSec), requestPerSec),
		executor: failsafe.With[*http.Response](retryPolicy),
	}
}

// Get sends a GET request with the given query parameters.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post marshals body to compact JSON and sends it. The exact marshalled bytes
// are what the signer sees, so the signature matches the wire payload.
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload []byte) ([]byte, error) {
	// A fresh request is built per attempt: the body reader is single-use and
	// the signature carries a timestamp that must stay within recv_window.
	resp, err := c.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		// The retry policy abandons the previous attempt's response; drain
		// and close it so its connection goes back to the pool instead of
		// leaking a socket per retry.
		if prev := exec.LastResult(); prev != nil && prev.Body != nil {
			_, _ = io.Copy(io.Discard, prev.Body)
			prev.Body.Close()
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, err
		}

		if params != nil {
			q := req.URL.Query()
			for k, v := range params {
				q.Add(k, v)
			}
			req.URL.RawQuery = q.Encode()
		}

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.signer != nil {
			if err := c.signer.SignRequest(req, payload); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
		}

		return c.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}
