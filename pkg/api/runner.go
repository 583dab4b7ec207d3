package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RunnerItem identifies one inventory item within a runner request.
type RunnerItem struct {
	SerializedID string `json:"serializedId"`
}

// RunnerRequest is the outbound pick-task creation payload.
type RunnerRequest struct {
	SalesPerson   string       `json:"salesPerson"`
	Items         []RunnerItem `json:"items"`
	DestinationID int          `json:"destinationId"`
	Warehouse     string       `json:"warehouse"`
	Type          string       `json:"type"`
}

// CheffingItem is one pending work-queue entry. Only the fields the
// dispatcher reads are mapped; the service returns many more.
type CheffingItem struct {
	ID           int        `json:"id"`
	SerializedID string     `json:"serializedId"`
	SID          string     `json:"sid"`
	LocationCode string     `json:"locationCode"`
	Status       string     `json:"status"`
	Warehouse    string     `json:"warehouse"`
	Created      time.Time  `json:"created"`
	Updated      *time.Time `json:"updated"`
}

// CreateOutcome is the result of a creation call.
type CreateOutcome int

const (
	// OutcomeAccepted means a new runner request was created downstream.
	OutcomeAccepted CreateOutcome = iota

	// OutcomeDuplicate means the request already exists downstream; the
	// service answered 204 No Content. Not an error, consumes no budget.
	OutcomeDuplicate
)

// RunnerClient talks to the work-queue (runner) service.
type RunnerClient struct {
	base *Client
}

// NewRunnerClient creates a runner service client.
func NewRunnerClient(opts Options) (*RunnerClient, error) {
	opts.Service = "runner"
	base, err := NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("runner client: %w", err)
	}
	return &RunnerClient{base: base}, nil
}

// Base returns the underlying client (for testing).
func (c *RunnerClient) Base() *Client {
	return c.base
}

// CreateRequest submits one runner request. Idempotency is owned by the
// service: re-submitting an existing request yields OutcomeDuplicate.
func (c *RunnerClient) CreateRequest(ctx context.Context, req RunnerRequest) (CreateOutcome, error) {
	status, err := c.base.PostJSON(ctx, "cheffing/request", req, nil)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNoContent {
		return OutcomeDuplicate, nil
	}
	return OutcomeAccepted, nil
}

// CountUnassigned returns the number of unassigned web-origin work items
// currently pending for the warehouse. Feeds the admission budget.
func (c *RunnerClient) CountUnassigned(ctx context.Context, warehouse string) (int, error) {
	var items []CheffingItem
	path := fmt.Sprintf("cheffing/item/warehouse/%s/type/WEB/unassigned", url.PathEscape(warehouse))
	if _, err := c.base.GetJSON(ctx, path, &items); err != nil {
		return 0, fmt.Errorf("count unassigned: %w", err)
	}
	return len(items), nil
}

// RefreshLocations signals the service to refresh its location snapshot.
// Invoked once at the end of a successful run; failure is logged by the
// caller and never rolls back the run.
func (c *RunnerClient) RefreshLocations(ctx context.Context) error {
	if _, err := c.base.PostJSON(ctx, "cheffing/location/refresh", nil, nil); err != nil {
		return fmt.Errorf("refresh locations: %w", err)
	}
	return nil
}
