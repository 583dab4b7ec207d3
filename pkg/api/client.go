// Package api provides the JSON service clients for the downstream
// collaborators (location, runner, inventory, export) with retry, error
// classification, and request metrics.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// Prometheus metrics for service client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_api_requests_total",
		Help: "Total downstream requests by service, endpoint and status",
	}, []string{"service", "endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_api_request_duration_seconds",
		Help:    "Downstream request duration in seconds by service and endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"service", "endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_api_errors_total",
		Help: "Total downstream errors by service and class",
	}, []string{"service", "class"})
)

// Client is the base JSON client shared by all downstream service clients.
// Every service speaks JSON and authenticates with an API key header; only
// the header name differs between services.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	apiKeyHeader string
	retry        RetryConfig
	service      string
	logger       zerolog.Logger
}

// Options holds the base client configuration.
type Options struct {
	// Service names the downstream service in logs and metrics.
	Service string

	// BaseURL is the service root; request paths are appended to it.
	BaseURL string

	APIKey       string
	APIKeyHeader string

	// Timeout bounds each HTTP round trip (default 30s).
	Timeout time.Duration

	Retry RetryConfig
}

// NewClient creates a base service client.
func NewClient(opts Options) (*Client, error) {
	if opts.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "api_key"
	}

	return &Client{
		httpClient:   &http.Client{Timeout: opts.Timeout},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		apiKeyHeader: opts.APIKeyHeader,
		retry:        opts.Retry.withDefaults(),
		service:      opts.Service,
		logger:       logging.NewLogger(opts.Service + "-client"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetJSON performs a GET request and decodes the response body into out.
// Returns the HTTP status code alongside any error.
func (c *Client) GetJSON(ctx context.Context, path string, out any) (int, error) {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON performs a POST request with a JSON payload and decodes the
// response body into out. A nil out skips decoding.
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request body: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// doJSON executes one logical request with retry and classification. The
// request is rebuilt per attempt because the body reader is consumed.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	endpoint := "/" + strings.TrimLeft(path, "/")

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(c.service, endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var status int
	var respBody []byte

	retryErr := retryWithBackoff(ctx, c.service, c.retry, c.logger, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set(c.apiKeyHeader, c.apiKey)
		}

		resp, reqErr := c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			apiErrorsTotal.WithLabelValues(c.service, string(ErrorClassNetwork)).Inc()
			apiRequestsTotal.WithLabelValues(c.service, endpoint, "network_error").Inc()
			return reqErr
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			apiErrorsTotal.WithLabelValues(c.service, string(ErrorClassNetwork)).Inc()
			return fmt.Errorf("read response body: %w", err)
		}

		apiRequestsTotal.WithLabelValues(c.service, endpoint, fmt.Sprintf("%d", status)).Inc()

		if status >= 400 {
			errClass := classifyStatus(status)
			apiErrorsTotal.WithLabelValues(c.service, string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", status).
				Str("error_class", string(errClass)).
				Msg("Downstream request error")

			return &APIError{
				Service:    c.service,
				StatusCode: status,
				ErrorClass: errClass,
				Message:    errorMessage(respBody),
			}
		}

		return nil
	})
	if retryErr != nil {
		return status, retryErr
	}

	if out != nil && status != http.StatusNoContent && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return status, fmt.Errorf("decode %s response: %w", c.service, err)
		}
	}

	return status, nil
}

// errorMessage extracts a human-readable message from an error response
// body. Services disagree on the field name, so both common shapes are
// tried before falling back to the raw body.
func errorMessage(body []byte) string {
	const generic = "error in the API service call"

	if len(body) == 0 {
		return generic
	}

	var shaped struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if shaped.Message != "" {
			return shaped.Message
		}
		if shaped.Error != "" {
			return shaped.Error
		}
	}

	return fmt.Sprintf("%s: %s", generic, string(body))
}
