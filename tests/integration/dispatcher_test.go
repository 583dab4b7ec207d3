package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/warehouse-ops/runner-dispatch/internal/testutil"
	"github.com/warehouse-ops/runner-dispatch/pkg/api"
	"github.com/warehouse-ops/runner-dispatch/pkg/orders"
	"github.com/warehouse-ops/runner-dispatch/pkg/pipeline"
	"github.com/warehouse-ops/runner-dispatch/pkg/scheduler"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestRunLock_MutualExclusion verifies that two lock holders sharing one
// Redis never both acquire, and that release frees the lock for the other.
func TestRunLock_MutualExclusion(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	lockA := scheduler.NewRedisLock(redisClient, time.Minute)
	lockB := scheduler.NewRedisLock(redisClient, time.Minute)

	okA, err := lockA.Acquire(ctx)
	if err != nil {
		t.Fatalf("lock A acquire: %v", err)
	}
	if !okA {
		t.Fatal("lock A should acquire a free lock")
	}

	okB, err := lockB.Acquire(ctx)
	if err != nil {
		t.Fatalf("lock B acquire: %v", err)
	}
	if okB {
		t.Fatal("lock B must not acquire while A holds")
	}

	lockA.Release(ctx)

	okB, err = lockB.Acquire(ctx)
	if err != nil {
		t.Fatalf("lock B re-acquire: %v", err)
	}
	if !okB {
		t.Fatal("lock B should acquire after A released")
	}
	lockB.Release(ctx)
}

// TestRunLock_StaleReleaseIgnored verifies a holder whose lock expired does
// not delete the lock a second holder re-acquired.
func TestRunLock_StaleReleaseIgnored(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	stale := scheduler.NewRedisLock(redisClient, 100*time.Millisecond)
	fresh := scheduler.NewRedisLock(redisClient, time.Minute)

	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("stale holder should acquire first")
	}

	time.Sleep(200 * time.Millisecond) // let the TTL expire

	if ok, _ := fresh.Acquire(ctx); !ok {
		t.Fatal("fresh holder should acquire the expired lock")
	}

	// The stale holder's release must be a no-op now.
	stale.Release(ctx)

	val, err := redisClient.Get(ctx, scheduler.RedisKeyRunLock).Result()
	if err != nil {
		t.Fatalf("lock key vanished after stale release: %v", err)
	}
	if val == "" {
		t.Fatal("lock key empty after stale release")
	}
}

// TestScheduledRun_CrossReplicaSingleFlight runs two schedulers sharing one
// Redis lock against one set of mock services and verifies only one of them
// executes the run.
func TestScheduledRun_CrossReplicaSingleFlight(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockServices()
	defer mock.Close()

	mock.SetExportCSV("OrderID,InvoiceID,CreatedAt,ShippingMethod,SerializedID\n" +
		"1001,9001,2026-08-20 10:00:00,matrixrate_ground,N123456\n")
	mock.SetLocation("123456", "NY-A-12-3")
	mock.SetUnassigned("NY", 0)

	newSched := func() *scheduler.Scheduler {
		p := buildTestPipeline(t, mock)
		task := func(ctx context.Context) error {
			// Hold the lock long enough for the slow replica to collide.
			_, err := p.Run(ctx)
			time.Sleep(300 * time.Millisecond)
			return err
		}
		return scheduler.New(task, scheduler.Config{
			Interval: time.Hour,
			Lock:     scheduler.NewRedisLock(redisClient, time.Minute),
		})
	}

	schedA := newSched()
	schedB := newSched()

	ctx := context.Background()
	results := make(chan bool, 2)
	go func() { results <- schedA.TryRun(ctx) }()
	go func() { results <- schedB.TryRun(ctx) }()

	ranA, ranB := <-results, <-results
	if ranA == ranB {
		t.Fatalf("exactly one replica should run, got %v and %v", ranA, ranB)
	}

	// One run against one order: exactly one creation downstream.
	if got := len(mock.Created()); got != 1 {
		t.Errorf("created = %d requests, want 1", got)
	}
}

func buildTestPipeline(t *testing.T, mock *testutil.MockServices) *pipeline.Pipeline {
	t.Helper()

	export, err := api.NewExportClient(mock.URL()+"/run.orders.php", mock.URL()+"/orders.csv")
	if err != nil {
		t.Fatal(err)
	}
	location, err := api.NewLocationClient(api.Options{BaseURL: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	runner, err := api.NewRunnerClient(api.Options{BaseURL: mock.URL(), APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	engine, err := pipeline.NewEngine(runner, nil, pipeline.EngineConfig{
		Destinations:     map[string]int{"NY": 2, "LA": 5},
		Regions:          map[string]string{"N": "NY"},
		DefaultWarehouse: "LA",
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := pipeline.New(
		export,
		pipeline.NewResolver(location, 300),
		pipeline.NewAdmission(runner),
		engine,
		runner,
		orders.Sequencer{DefaultPriority: 2, Classifier: orders.DefaultClassifier()},
		pipeline.Eligibility{Blocked: []string{"STAGE", "SOLD"}},
		pipeline.Options{
			PageSize:         300,
			MaxPerRun:        10,
			DaysBack:         30,
			Regions:          map[string]string{"N": "NY"},
			DefaultWarehouse: "LA",
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
