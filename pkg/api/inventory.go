package api

import (
	"context"
	"fmt"
	"net/url"
)

// StockItem is the inventory service's view of one serialized item.
type StockItem struct {
	SerializedID string   `json:"serialized_id"`
	Notes        string   `json:"notes"`
	SID          string   `json:"sid"`
	Style        string   `json:"style"`
	Type         string   `json:"type"`
	Brand        string   `json:"brand"`
	Model        string   `json:"model"`
	Year         *int     `json:"year"`
	Colorway     string   `json:"colorway"`
	Size         string   `json:"size"`
	Sold         bool     `json:"sold"`
	Hidden       bool     `json:"hidden"`
	Conditions   []string `json:"conditions"`
	Warehouse    string   `json:"warehouse"`
	PriceCents   int      `json:"price_cents"`
}

// InventoryClient reads serialized stock items from the inventory service.
// Used for the optional pre-dispatch sold/hidden verification.
type InventoryClient struct {
	base *Client
}

// NewInventoryClient creates an inventory service client.
func NewInventoryClient(opts Options) (*InventoryClient, error) {
	opts.Service = "inventory"
	base, err := NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("inventory client: %w", err)
	}
	return &InventoryClient{base: base}, nil
}

// Base returns the underlying client (for testing).
func (c *InventoryClient) Base() *Client {
	return c.base
}

// StockItem fetches one item by its full serialized id.
func (c *InventoryClient) StockItem(ctx context.Context, serializedID string) (*StockItem, error) {
	var item StockItem
	path := fmt.Sprintf("v1/stock_items/serialized/%s", url.PathEscape(serializedID))
	if _, err := c.base.GetJSON(ctx, path, &item); err != nil {
		return nil, fmt.Errorf("get stock item: %w", err)
	}
	return &item, nil
}
