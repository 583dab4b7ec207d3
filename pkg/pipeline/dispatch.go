package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/api"
	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
	"github.com/warehouse-ops/runner-dispatch/pkg/orders"
)

// Prometheus metrics for the dispatch engine.
var (
	requestsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_created_total",
		Help: "Runner requests accepted downstream by warehouse",
	}, []string{"warehouse"})

	requestsDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_duplicate_total",
		Help: "Runner creations answered as already existing by warehouse",
	}, []string{"warehouse"})

	requestsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_failed_total",
		Help: "Runner creations that errored and were skipped by warehouse",
	}, []string{"warehouse"})

	stockSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_stock_skipped_total",
		Help: "Records skipped by inventory verification by reason",
	}, []string{"reason"})
)

// RequestCreator is the work-queue capability the engine needs.
type RequestCreator interface {
	CreateRequest(ctx context.Context, req api.RunnerRequest) (api.CreateOutcome, error)
}

// StockVerifier reads serialized stock items for pre-dispatch verification.
type StockVerifier interface {
	StockItem(ctx context.Context, serializedID string) (*api.StockItem, error)
}

// Result is the tagged outcome of one dispatch page.
type Result struct {
	// Accepted counts creations newly accepted downstream.
	Accepted int

	// BudgetExhausted is set when the admission budget ran out before the
	// input did; the caller must stop issuing further pages.
	BudgetExhausted bool

	// Duplicates counts idempotent no-ops (request already exists).
	Duplicates int

	// Failed counts per-record creation errors; each is logged and
	// skipped without consuming budget.
	Failed int

	// StockSkipped counts records dropped by inventory verification.
	StockSkipped int
}

// EngineConfig holds dispatch engine settings.
type EngineConfig struct {
	// Destinations maps warehouse codes to runner destination ids.
	Destinations map[string]int

	// Regions and DefaultWarehouse implement the serialized-id region
	// prefix policy.
	Regions          map[string]string
	DefaultWarehouse string

	SalesPerson string
	RequestType string
}

// Engine walks an eligible, prioritized record sequence and issues one
// creation call per record until the admission budget or the input is
// exhausted. Creation is externally idempotent, so nothing is rolled back
// on abandonment.
type Engine struct {
	runner    RequestCreator
	inventory StockVerifier // nil disables verification
	cfg       EngineConfig
	logger    zerolog.Logger
}

// NewEngine creates a dispatch engine. inventory may be nil to disable the
// sold/hidden verification step.
func NewEngine(runner RequestCreator, inventory StockVerifier, cfg EngineConfig) (*Engine, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner client is required")
	}
	if len(cfg.Destinations) == 0 {
		return nil, fmt.Errorf("destination map is required")
	}
	if cfg.SalesPerson == "" {
		cfg.SalesPerson = "Magento"
	}
	if cfg.RequestType == "" {
		cfg.RequestType = "WEB"
	}
	return &Engine{
		runner:    runner,
		inventory: inventory,
		cfg:       cfg,
		logger:    logging.NewLogger("dispatch-engine"),
	}, nil
}

// DispatchPage issues creation calls for one page of eligible records
// against the remaining budget. The budget check happens at loop entry:
// the engine never starts a creation call once `remaining` acceptances
// have been counted. Duplicates and failures consume no budget.
func (e *Engine) DispatchPage(ctx context.Context, records []orders.Record, remaining int) (Result, error) {
	var res Result

	e.logger.Info().
		Int("records", len(records)).
		Int("remaining", remaining).
		Msg("Dispatching page")

	for i := range records {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("dispatch abandoned: %w", err)
		}

		if res.Accepted >= remaining {
			res.BudgetExhausted = true
			e.logger.Info().
				Int("accepted", res.Accepted).
				Msg("Admission budget exhausted")
			return res, nil
		}

		rec := &records[i]
		warehouse := rec.ResolveWarehouse(e.cfg.Regions, e.cfg.DefaultWarehouse)

		if skip, reason := e.verifyStock(ctx, rec); skip {
			res.StockSkipped++
			stockSkippedTotal.WithLabelValues(reason).Inc()
			e.logger.Info().
				Str("serialized_id", rec.SerializedID).
				Str("reason", reason).
				Msg("Record skipped by inventory verification")
			continue
		}

		destination, ok := e.cfg.Destinations[warehouse]
		if !ok {
			res.Failed++
			requestsFailedTotal.WithLabelValues(warehouse).Inc()
			e.logger.Error().
				Str("serialized_id", rec.SerializedID).
				Str("warehouse", warehouse).
				Msg("No destination configured for warehouse")
			continue
		}

		req := api.RunnerRequest{
			SalesPerson:   e.cfg.SalesPerson,
			Warehouse:     warehouse,
			Type:          e.cfg.RequestType,
			DestinationID: destination,
			Items:         []api.RunnerItem{{SerializedID: rec.ItemID()}},
		}

		outcome, err := e.runner.CreateRequest(ctx, req)
		if err != nil {
			res.Failed++
			requestsFailedTotal.WithLabelValues(warehouse).Inc()
			e.logger.Error().
				Err(err).
				Str("serialized_id", rec.SerializedID).
				Str("warehouse", warehouse).
				Msg("Error creating runner request")
			continue
		}

		switch outcome {
		case api.OutcomeDuplicate:
			res.Duplicates++
			requestsDuplicateTotal.WithLabelValues(warehouse).Inc()
			e.logger.Info().
				Str("serialized_id", rec.SerializedID).
				Msg("Runner request already exists")
		default:
			res.Accepted++
			requestsCreatedTotal.WithLabelValues(warehouse).Inc()
			e.logger.Info().
				Str("serialized_id", rec.SerializedID).
				Str("warehouse", warehouse).
				Int("accepted", res.Accepted).
				Msg("Runner request created")
		}
	}

	return res, nil
}

// verifyStock applies the optional inventory check. Lookup failures skip
// the record rather than dispatching a possibly-sold item.
func (e *Engine) verifyStock(ctx context.Context, rec *orders.Record) (bool, string) {
	if e.inventory == nil {
		return false, ""
	}

	item, err := e.inventory.StockItem(ctx, rec.SerializedID)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("serialized_id", rec.SerializedID).
			Msg("Inventory verification failed")
		return true, "lookup_error"
	}
	if item.Sold {
		return true, "sold"
	}
	if item.Hidden {
		return true, "hidden"
	}
	return false, ""
}
