package api

import (
	"context"
	"fmt"
)

// ProductLocation is one resolved inventory location.
type ProductLocation struct {
	LocationCode string `json:"locationCode"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
	Building     string `json:"building"`
	Floor        string `json:"floor"`
	Warehouse    string `json:"warehouse"`
	Product      string `json:"product"`
	ProductStyle string `json:"productStyle"`
	Available    bool   `json:"available"`
}

// LocationLookup is the result of one batch lookup call. Item ids with no
// current location are listed in NotFound.
type LocationLookup struct {
	NotFound []string          `json:"notFound"`
	Results  []ProductLocation `json:"results"`
}

// LocationClient resolves inventory item ids to warehouse locations.
type LocationClient struct {
	base *Client
}

// NewLocationClient creates a location service client.
func NewLocationClient(opts Options) (*LocationClient, error) {
	opts.Service = "location"
	base, err := NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("location client: %w", err)
	}
	return &LocationClient{base: base}, nil
}

// Base returns the underlying client (for testing).
func (c *LocationClient) Base() *Client {
	return c.base
}

// LookupBatch resolves one batch of item ids (region prefix already
// stripped). The request payload is the bare id list.
func (c *LocationClient) LookupBatch(ctx context.Context, itemIDs []string) (*LocationLookup, error) {
	var lookup LocationLookup
	if _, err := c.base.PostJSON(ctx, "lookup/products", itemIDs, &lookup); err != nil {
		return nil, fmt.Errorf("lookup products: %w", err)
	}
	return &lookup, nil
}
