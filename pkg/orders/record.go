// Package orders parses the raw order export and produces the prioritized
// record sequence the dispatch pipeline consumes.
package orders

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// Record is one normalized order export row.
//
// SerializedID is the composite key: the first character encodes the
// warehouse region, the remainder is the inventory item id. LocationCode
// starts empty and is written exactly once by the location resolver.
type Record struct {
	OrderID        string
	InvoiceID      string
	CreatedAt      time.Time
	ShippingMethod string
	SerializedID   string

	// Warehouse is the optional explicit tag from 6-column exports.
	Warehouse string

	// LocationCode is empty until resolved; empty after resolution means
	// "not found".
	LocationCode string
}

// ItemID returns the inventory item id with the region prefix stripped.
func (r *Record) ItemID() string {
	return r.SerializedID[1:]
}

// RegionPrefix returns the one-character warehouse region prefix.
func (r *Record) RegionPrefix() string {
	return r.SerializedID[:1]
}

// ResolveWarehouse maps the record to a warehouse code. An explicit export
// tag wins; otherwise the region prefix is looked up, falling back to the
// default warehouse for unmapped prefixes.
func (r *Record) ResolveWarehouse(regions map[string]string, defaultWarehouse string) string {
	if r.Warehouse != "" {
		return r.Warehouse
	}
	if wh, ok := regions[r.RegionPrefix()]; ok {
		return wh
	}
	return defaultWarehouse
}

// ParseStats counts the outcome of one export parse.
type ParseStats struct {
	Rows    int
	Parsed  int
	Skipped int
}

// createdAtLayouts are tried in order when parsing the CreatedAt column.
// The export's date format has drifted between revisions.
var createdAtLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"1/2/2006 15:04",
	"2006-01-02",
}

// ParseExport parses the raw export payload into records. The export has
// shipped with both 5 and 6 columns (OrderID, InvoiceID, CreatedAt,
// ShippingMethod, SerializedID, [Warehouse]); both schemas are accepted.
// A malformed row (bad date, empty serialized id, too few columns) is
// skipped and counted, never fatal for the import.
func ParseExport(data []byte) ([]Record, ParseStats, error) {
	logger := logging.NewLogger("normalizer")

	// The export wraps some fields in stray quotes that are not valid CSV
	// quoting; strip them wholesale before parsing.
	clean := strings.ReplaceAll(string(data), `"`, "")

	reader := csv.NewReader(strings.NewReader(clean))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("parse export csv: %w", err)
	}

	var stats ParseStats
	records := make([]Record, 0, len(rows))

	for i, row := range rows {
		// First row is the column header.
		if i == 0 {
			continue
		}
		stats.Rows++

		rec, err := parseRow(row)
		if err != nil {
			stats.Skipped++
			logger.Warn().
				Int("row", i+1).
				Err(err).
				Msg("Skipping malformed export row")
			continue
		}

		stats.Parsed++
		records = append(records, rec)
	}

	if stats.Skipped > 0 {
		logger.Warn().
			Int("skipped", stats.Skipped).
			Int("parsed", stats.Parsed).
			Msg("Export contained malformed rows")
	}

	return records, stats, nil
}

func parseRow(row []string) (Record, error) {
	if len(row) < 5 {
		return Record{}, fmt.Errorf("expected at least 5 columns, got %d", len(row))
	}

	serializedID := strings.TrimSpace(row[4])
	if serializedID == "" {
		return Record{}, fmt.Errorf("empty serialized id")
	}
	if len(serializedID) < 2 {
		return Record{}, fmt.Errorf("serialized id %q too short for region prefix", serializedID)
	}

	createdAt, err := parseCreatedAt(strings.TrimSpace(row[2]))
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		OrderID:        strings.TrimSpace(row[0]),
		InvoiceID:      strings.TrimSpace(row[1]),
		CreatedAt:      createdAt,
		ShippingMethod: strings.TrimSpace(row[3]),
		SerializedID:   serializedID,
	}

	// 6-column schema carries an explicit warehouse tag.
	if len(row) >= 6 {
		rec.Warehouse = strings.TrimSpace(row[5])
	}

	return rec, nil
}

func parseCreatedAt(value string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created_at %q", value)
}
