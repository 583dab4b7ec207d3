package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warehouse-ops/runner-dispatch/pkg/api"
	"github.com/warehouse-ops/runner-dispatch/pkg/config"
	"github.com/warehouse-ops/runner-dispatch/pkg/logging"
	"github.com/warehouse-ops/runner-dispatch/pkg/orders"
	"github.com/warehouse-ops/runner-dispatch/pkg/pipeline"
	"github.com/warehouse-ops/runner-dispatch/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to dispatcher.yml (default: search . and /etc/runner-dispatch)")
	once := flag.Bool("once", false, "execute a single run and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	var lock scheduler.Locker
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		// TTL longer than the run timeout, so the lock outlives any run it
		// guards.
		lock = scheduler.NewRedisLock(redisClient, 2*cfg.Schedule.RunTimeout)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Cross-replica run lock enabled")
	}

	sched := scheduler.New(func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	}, scheduler.Config{
		Interval:   cfg.Schedule.Interval,
		RunTimeout: cfg.Schedule.RunTimeout,
		Lock:       lock,
	})

	if *once {
		if !sched.TryRun(ctx) {
			logger.Error().Msg("Run skipped, another replica holds the lock")
			os.Exit(1)
		}
		return
	}

	go serveHTTP(cfg.ListenAddr, logger)

	logger.Info().
		Dur("interval", cfg.Schedule.Interval).
		Str("listen_addr", cfg.ListenAddr).
		Msg("Dispatcher started")

	sched.Run(ctx)
}

// buildPipeline wires every collaborator explicitly from configuration.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	export, err := api.NewExportClient(cfg.Export.TriggerURL, cfg.Export.DownloadURL)
	if err != nil {
		return nil, err
	}

	location, err := api.NewLocationClient(api.Options{
		BaseURL:      cfg.Location.URL,
		APIKey:       cfg.Location.APIKey,
		APIKeyHeader: cfg.Location.APIKeyHeader,
	})
	if err != nil {
		return nil, err
	}

	runner, err := api.NewRunnerClient(api.Options{
		BaseURL:      cfg.Runner.URL,
		APIKey:       cfg.Runner.APIKey,
		APIKeyHeader: cfg.Runner.APIKeyHeader,
	})
	if err != nil {
		return nil, err
	}

	var inventory pipeline.StockVerifier
	if cfg.Dispatch.VerifyInventory {
		client, err := api.NewInventoryClient(api.Options{
			BaseURL:      cfg.Inventory.URL,
			APIKey:       cfg.Inventory.APIKey,
			APIKeyHeader: cfg.Inventory.APIKeyHeader,
		})
		if err != nil {
			return nil, err
		}
		inventory = client
	}

	engine, err := pipeline.NewEngine(runner, inventory, pipeline.EngineConfig{
		Destinations:     cfg.Warehouse.Destinations,
		Regions:          cfg.Warehouse.Regions,
		DefaultWarehouse: cfg.Warehouse.DefaultWarehouse,
		SalesPerson:      cfg.Dispatch.SalesPerson,
		RequestType:      cfg.Dispatch.RequestType,
	})
	if err != nil {
		return nil, err
	}

	sequencer := orders.Sequencer{
		Priorities:      cfg.Dispatch.Priorities,
		DefaultPriority: cfg.Dispatch.DefaultPriority,
		ShoesFirst:      cfg.Dispatch.ShoesFirst,
		Classifier: orders.Classifier{
			Offset:        cfg.Dispatch.ShoeRule.Offset,
			Width:         cfg.Dispatch.ShoeRule.Width,
			NonShoePrefix: cfg.Dispatch.ShoeRule.NonShoePrefix,
		},
	}

	return pipeline.New(
		export,
		pipeline.NewResolver(location, cfg.Dispatch.PageSize),
		pipeline.NewAdmission(runner),
		engine,
		runner,
		sequencer,
		pipeline.Eligibility{Blocked: cfg.Dispatch.BlockedLocations},
		pipeline.Options{
			PageSize:         cfg.Dispatch.PageSize,
			MaxPerRun:        cfg.Dispatch.MaxPerRun,
			DaysBack:         cfg.Schedule.DaysBack,
			Regions:          cfg.Warehouse.Regions,
			DefaultWarehouse: cfg.Warehouse.DefaultWarehouse,
			DropNonShoes:     cfg.Dispatch.DropNonShoes,
		},
	)
}

func serveHTTP(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
