// Package pipeline implements the order-dispatch core: location resolution,
// admission control, the dispatch engine, and the end-to-end run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/api"
	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
	"github.com/warehouse-ops/runner-dispatch/pkg/orders"
)

// Prometheus metrics for location resolution.
var (
	locationLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_location_lookups_total",
		Help: "Total location batch lookups by result",
	}, []string{"result"})

	locationUnresolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_location_unresolved_total",
		Help: "Total records left without a location after lookup",
	})
)

// LocationLookuper is the location service capability the resolver needs.
type LocationLookuper interface {
	LookupBatch(ctx context.Context, itemIDs []string) (*api.LocationLookup, error)
}

// Resolver groups records into bounded lookup batches and merges returned
// location codes back onto them. A failed batch aborts the whole run:
// dispatching against partial location data produces silently-wrong
// decisions, so the stage is deliberately fail-fast.
type Resolver struct {
	client    LocationLookuper
	batchSize int
	logger    zerolog.Logger
}

// NewResolver creates a resolver with the given maximum batch size.
func NewResolver(client LocationLookuper, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = 300
	}
	return &Resolver{
		client:    client,
		batchSize: batchSize,
		logger:    logging.NewLogger("location-resolver"),
	}
}

// assignment pairs a record index with its resolved location code.
type assignment struct {
	recordIdx int
	code      string
}

// Resolve looks up locations for all records and writes each match onto the
// record's LocationCode. Batches preserve sequence order and are capped at
// the configured size. Matching is by item-id containment within the full
// serialized id, which tolerates formatting drift such as leading zeros;
// the first matching record wins when duplicates exist. Records in the
// lookup's not-found set, or with no match at all, keep an empty code.
func (r *Resolver) Resolve(ctx context.Context, records []orders.Record) error {
	if len(records) == 0 {
		return nil
	}

	type batchLookup struct {
		index  int
		lookup *api.LocationLookup
	}

	var lookups []batchLookup
	for i := 0; i < len(records); i += r.batchSize {
		end := i + r.batchSize
		if end > len(records) {
			end = len(records)
		}

		ids := make([]string, 0, end-i)
		for _, rec := range records[i:end] {
			ids = append(ids, rec.ItemID())
		}

		r.logger.Debug().
			Int("batch", len(lookups)).
			Int("ids", len(ids)).
			Msg("Looking up location batch")

		lookup, err := r.client.LookupBatch(ctx, ids)
		if err != nil {
			locationLookupsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("location batch %d: %w", len(lookups), err)
		}
		locationLookupsTotal.WithLabelValues("ok").Inc()

		lookups = append(lookups, batchLookup{index: len(lookups), lookup: lookup})
	}

	// Each worker matches its batch's results against the record set and
	// emits assignments; nothing shared is written until the reduction
	// below, which applies them single-threaded in batch order.
	matched := make([][]assignment, len(lookups))
	var wg sync.WaitGroup
	for _, bl := range lookups {
		wg.Add(1)
		go func(bl batchLookup) {
			defer wg.Done()
			var local []assignment
			for _, result := range bl.lookup.Results {
				if result.Product == "" {
					continue
				}
				for idx := range records {
					if strings.Contains(records[idx].SerializedID, result.Product) {
						local = append(local, assignment{recordIdx: idx, code: result.LocationCode})
						break
					}
				}
			}
			matched[bl.index] = local
		}(bl)
	}
	wg.Wait()

	resolved := 0
	for _, batch := range matched {
		for _, a := range batch {
			if records[a.recordIdx].LocationCode != "" {
				continue
			}
			records[a.recordIdx].LocationCode = a.code
			resolved++
		}
	}

	unresolved := len(records) - resolved
	if unresolved > 0 {
		locationUnresolvedTotal.Add(float64(unresolved))
	}

	r.logger.Info().
		Int("records", len(records)).
		Int("resolved", resolved).
		Int("unresolved", unresolved).
		Int("batches", len(lookups)).
		Msg("Locations merged")

	return nil
}

// Eligibility filters resolved records before dispatch. A record is
// eligible only when its location code is set and matches none of the
// blocked substrings (staging areas, sales floor, consignment, sold, ...).
type Eligibility struct {
	Blocked []string
}

// Eligible reports whether the record may be dispatched this run.
func (e Eligibility) Eligible(r orders.Record) bool {
	if r.LocationCode == "" {
		return false
	}
	for _, blocked := range e.Blocked {
		if strings.Contains(r.LocationCode, blocked) {
			return false
		}
	}
	return true
}

// Partition splits records into eligible and ineligible subsets, keeping
// sequence order within each.
func (e Eligibility) Partition(records []orders.Record) (eligible, ineligible []orders.Record) {
	for _, r := range records {
		if e.Eligible(r) {
			eligible = append(eligible, r)
		} else {
			ineligible = append(ineligible, r)
		}
	}
	return eligible, ineligible
}
