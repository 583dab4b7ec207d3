package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
)

// Prometheus metrics for admission control.
var (
	admissionQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_admission_queue_depth",
		Help: "Unassigned web work-queue depth at run start by warehouse",
	}, []string{"warehouse"})

	admissionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_admission_rejected_total",
		Help: "Runs where a warehouse had no remaining capacity",
	}, []string{"warehouse"})
)

// UnassignedCounter is the work-queue capability admission control needs.
type UnassignedCounter interface {
	CountUnassigned(ctx context.Context, warehouse string) (int, error)
}

// Admission computes the per-warehouse dispatch budget before any creation
// call is issued. The downstream queue has finite worker throughput; this
// is explicit backpressure against re-importing the same unresolved
// backlog every run.
type Admission struct {
	counter UnassignedCounter
	logger  zerolog.Logger
}

// NewAdmission creates an admission controller.
func NewAdmission(counter UnassignedCounter) *Admission {
	return &Admission{
		counter: counter,
		logger:  logging.NewLogger("admission"),
	}
}

// HasCapacity queries the current unassigned queue depth for the warehouse
// and returns whether any budget remains and how much. A depth at or above
// maxAllowed means no capacity. The snapshot is taken once per warehouse
// per run and only decremented locally afterwards; drift against
// concurrent external writers is accepted imprecision.
func (a *Admission) HasCapacity(ctx context.Context, warehouse string, maxAllowed int) (bool, int, error) {
	depth, err := a.counter.CountUnassigned(ctx, warehouse)
	if err != nil {
		return false, 0, fmt.Errorf("admission check for %s: %w", warehouse, err)
	}

	admissionQueueDepth.WithLabelValues(warehouse).Set(float64(depth))

	if depth >= maxAllowed {
		admissionRejectedTotal.WithLabelValues(warehouse).Inc()
		a.logger.Info().
			Str("warehouse", warehouse).
			Int("queue_depth", depth).
			Int("max_allowed", maxAllowed).
			Msg("No dispatch capacity this run")
		return false, 0, nil
	}

	remaining := maxAllowed - depth
	a.logger.Info().
		Str("warehouse", warehouse).
		Int("queue_depth", depth).
		Int("remaining", remaining).
		Msg("Admission budget computed")

	return true, remaining, nil
}
