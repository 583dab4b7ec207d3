package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// ExportClient triggers remote export generation and downloads the
// resulting CSV. Both calls are plain HTTP fetches with no state; a failure
// of either aborts the current run.
type ExportClient struct {
	httpClient  *http.Client
	triggerURL  string
	downloadURL string
	logger      zerolog.Logger
}

// NewExportClient creates an export client for the given endpoints.
func NewExportClient(triggerURL, downloadURL string) (*ExportClient, error) {
	if triggerURL == "" {
		return nil, fmt.Errorf("trigger URL is required")
	}
	if downloadURL == "" {
		return nil, fmt.Errorf("download URL is required")
	}

	return &ExportClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		triggerURL:  triggerURL,
		downloadURL: downloadURL,
		logger:      logging.NewLogger("export-client"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *ExportClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RequestCreation asks the remote admin to regenerate the order export for
// orders created after the given time.
func (c *ExportClient) RequestCreation(ctx context.Context, since time.Time) error {
	c.logger.Info().Time("since", since).Msg("Requesting export file creation")

	u, err := url.Parse(c.triggerURL)
	if err != nil {
		return fmt.Errorf("parse trigger URL: %w", err)
	}
	q := u.Query()
	q.Set("after", fmt.Sprintf("%d", since.Unix()))
	u.RawQuery = q.Encode()

	body, status, err := c.fetch(ctx, u.String())
	if err != nil {
		return fmt.Errorf("request export creation: %w", err)
	}
	if status < 200 || status >= 300 {
		return &APIError{
			Service:    "export",
			StatusCode: status,
			ErrorClass: classifyStatus(status),
			Message:    string(body),
		}
	}

	c.logger.Info().Msg("Export file created")
	return nil
}

// Download fetches the generated CSV. A unique query parameter defeats any
// intermediate caches; the export has no caching contract.
func (c *ExportClient) Download(ctx context.Context) ([]byte, error) {
	c.logger.Info().Msg("Downloading export file")

	u, err := url.Parse(c.downloadURL)
	if err != nil {
		return nil, fmt.Errorf("parse download URL: %w", err)
	}
	q := u.Query()
	q.Set("_", fmt.Sprintf("%d", time.Now().UnixNano()))
	u.RawQuery = q.Encode()

	body, status, err := c.fetch(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{
			Service:    "export",
			StatusCode: status,
			ErrorClass: classifyStatus(status),
			Message:    string(body),
		}
	}

	c.logger.Info().Int("bytes", len(body)).Msg("Export file downloaded")
	return body, nil
}

func (c *ExportClient) fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	return body, resp.StatusCode, nil
}
