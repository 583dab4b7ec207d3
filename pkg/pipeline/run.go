package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
	"github.com/warehouse-ops/runner-dispatch/pkg/orders"
)

// Prometheus metrics for pipeline runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_runs_total",
		Help: "Total pipeline runs by result",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_run_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	rowsParsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_rows_parsed_total",
		Help: "Export rows successfully normalized",
	})

	rowsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_rows_skipped_total",
		Help: "Export rows skipped as malformed",
	})
)

// Exporter is the export acquisition capability.
type Exporter interface {
	RequestCreation(ctx context.Context, since time.Time) error
	Download(ctx context.Context) ([]byte, error)
}

// RefreshSignaler sends the end-of-run location refresh signal.
type RefreshSignaler interface {
	RefreshLocations(ctx context.Context) error
}

// Options holds run-level pipeline settings.
type Options struct {
	// PageSize bounds each location-resolver payload; it is independent
	// of the admission budget (pagination bounds lookup calls, not
	// dispatch count).
	PageSize int

	// MaxPerRun is the per-warehouse admission ceiling.
	MaxPerRun int

	// DaysBack sets the export window.
	DaysBack int

	// Regions and DefaultWarehouse group records into warehouses.
	Regions          map[string]string
	DefaultWarehouse string

	// DropNonShoes removes non-shoe records at import time instead of
	// sequencing them last.
	DropNonShoes bool
}

// WarehouseReport aggregates one warehouse's outcome for a run.
type WarehouseReport struct {
	Budget            int
	Accepted          int
	Duplicates        int
	Failed            int
	StockSkipped      int
	Ineligible        int
	AdmissionRejected bool
	BudgetExhausted   bool
}

// RunReport aggregates one pipeline run.
type RunReport struct {
	Started         time.Time
	Duration        time.Duration
	Rows            int
	Parsed          int
	SkippedRows     int
	DroppedNonShoes int
	Warehouses      map[string]*WarehouseReport
	Refreshed       bool
}

// Pipeline wires the stages of one dispatch run. All collaborators arrive
// via the constructor; nothing is looked up ambiently.
type Pipeline struct {
	export    Exporter
	resolver  *Resolver
	admission *Admission
	engine    *Engine
	refresher RefreshSignaler

	sequencer   orders.Sequencer
	classifier  orders.Classifier
	eligibility Eligibility
	opts        Options
	logger      zerolog.Logger
}

// New creates a pipeline.
func New(export Exporter, resolver *Resolver, admission *Admission, engine *Engine, refresher RefreshSignaler, sequencer orders.Sequencer, eligibility Eligibility, opts Options) (*Pipeline, error) {
	if export == nil || resolver == nil || admission == nil || engine == nil {
		return nil, fmt.Errorf("export, resolver, admission and engine are required")
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0 (got %d)", opts.PageSize)
	}
	if opts.MaxPerRun <= 0 {
		return nil, fmt.Errorf("max per run must be > 0 (got %d)", opts.MaxPerRun)
	}
	if opts.DaysBack <= 0 {
		opts.DaysBack = 30
	}

	return &Pipeline{
		export:      export,
		resolver:    resolver,
		admission:   admission,
		engine:      engine,
		refresher:   refresher,
		sequencer:   sequencer,
		classifier:  sequencer.Classifier,
		eligibility: eligibility,
		opts:        opts,
		logger:      logging.NewLogger("pipeline"),
	}, nil
}

// Run executes one end-to-end dispatch run. Stage errors abort the run and
// surface to the scheduler; nothing already created downstream is rolled
// back, since creation is externally idempotent.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		Started:    time.Now(),
		Warehouses: make(map[string]*WarehouseReport),
	}
	defer func() {
		report.Duration = time.Since(report.Started)
		runDuration.Observe(report.Duration.Seconds())
	}()

	records, err := p.acquire(ctx, report)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	if len(records) == 0 {
		p.logger.Info().Msg("Nothing to dispatch this run")
		runsTotal.WithLabelValues("empty").Inc()
		return report, nil
	}

	p.sequencer.Sort(records)

	byWarehouse := p.groupByWarehouse(records)

	// Deterministic warehouse order keeps runs comparable in logs.
	warehouses := make([]string, 0, len(byWarehouse))
	for wh := range byWarehouse {
		warehouses = append(warehouses, wh)
	}
	sort.Strings(warehouses)

	for _, wh := range warehouses {
		if err := p.runWarehouse(ctx, wh, byWarehouse[wh], report); err != nil {
			runsTotal.WithLabelValues("error").Inc()
			return report, err
		}
	}

	if p.refresher != nil {
		if err := p.refresher.RefreshLocations(ctx); err != nil {
			// End-of-run signal only; the run itself already succeeded.
			p.logger.Warn().Err(err).Msg("Location refresh signal failed")
		} else {
			report.Refreshed = true
		}
	}

	runsTotal.WithLabelValues("ok").Inc()
	p.logRunSummary(report)
	return report, nil
}

// acquire triggers export generation, downloads the file, and normalizes it.
func (p *Pipeline) acquire(ctx context.Context, report *RunReport) ([]orders.Record, error) {
	since := time.Now().AddDate(0, 0, -p.opts.DaysBack)
	if err := p.export.RequestCreation(ctx, since); err != nil {
		return nil, fmt.Errorf("trigger export: %w", err)
	}

	data, err := p.export.Download(ctx)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}

	records, stats, err := orders.ParseExport(data)
	if err != nil {
		return nil, fmt.Errorf("normalize export: %w", err)
	}

	report.Rows = stats.Rows
	report.Parsed = stats.Parsed
	report.SkippedRows = stats.Skipped
	rowsParsedTotal.Add(float64(stats.Parsed))
	rowsSkippedTotal.Add(float64(stats.Skipped))

	if p.opts.DropNonShoes {
		kept := records[:0]
		for _, r := range records {
			if p.classifier.IsShoe(r) {
				kept = append(kept, r)
			} else {
				report.DroppedNonShoes++
			}
		}
		records = kept
	}

	return records, nil
}

// groupByWarehouse partitions the sorted sequence per warehouse, preserving
// dispatch order within each group.
func (p *Pipeline) groupByWarehouse(records []orders.Record) map[string][]orders.Record {
	groups := make(map[string][]orders.Record)
	for _, r := range records {
		wh := r.ResolveWarehouse(p.opts.Regions, p.opts.DefaultWarehouse)
		groups[wh] = append(groups[wh], r)
	}
	return groups
}

// runWarehouse executes admission then the paged resolve-and-dispatch loop
// for one warehouse.
func (p *Pipeline) runWarehouse(ctx context.Context, warehouse string, records []orders.Record, report *RunReport) error {
	wr := &WarehouseReport{}
	report.Warehouses[warehouse] = wr

	ok, remaining, err := p.admission.HasCapacity(ctx, warehouse, p.opts.MaxPerRun)
	if err != nil {
		return err
	}
	wr.Budget = remaining
	if !ok {
		wr.AdmissionRejected = true
		return nil
	}

	for start := 0; start < len(records); start += p.opts.PageSize {
		end := start + p.opts.PageSize
		if end > len(records) {
			end = len(records)
		}
		page := records[start:end]

		p.logger.Debug().
			Str("warehouse", warehouse).
			Int("page_start", start).
			Int("page_size", len(page)).
			Msg("Processing dispatch page")

		// Fail-fast: a failed lookup aborts the run rather than
		// dispatching against partial location data.
		if err := p.resolver.Resolve(ctx, page); err != nil {
			return fmt.Errorf("warehouse %s: %w", warehouse, err)
		}

		eligible, ineligible := p.eligibility.Partition(page)
		wr.Ineligible += len(ineligible)

		res, err := p.engine.DispatchPage(ctx, eligible, remaining-wr.Accepted)
		if err != nil {
			return fmt.Errorf("warehouse %s: %w", warehouse, err)
		}

		wr.Accepted += res.Accepted
		wr.Duplicates += res.Duplicates
		wr.Failed += res.Failed
		wr.StockSkipped += res.StockSkipped

		if res.BudgetExhausted || wr.Accepted >= remaining {
			wr.BudgetExhausted = true
			p.logger.Info().
				Str("warehouse", warehouse).
				Int("accepted", wr.Accepted).
				Msg("Stopping pages, budget exhausted")
			break
		}
	}

	return nil
}

func (p *Pipeline) logRunSummary(report *RunReport) {
	event := p.logger.Info().
		Int("rows", report.Rows).
		Int("parsed", report.Parsed).
		Int("skipped_rows", report.SkippedRows).
		Dur("duration", report.Duration)

	for wh, wr := range report.Warehouses {
		event = event.Interface("warehouse_"+wh, map[string]int{
			"accepted":   wr.Accepted,
			"duplicates": wr.Duplicates,
			"failed":     wr.Failed,
			"ineligible": wr.Ineligible,
		})
	}

	event.Msg("Run complete")
}
