// Package control wires storage, queue, RPC and reconciliation handlers into
// the running service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/explorer/internal/core/config"
	"github.com/vietddude/explorer/internal/core/worker"
	"github.com/vietddude/explorer/internal/indexing/backfill"
	"github.com/vietddude/explorer/internal/indexing/health"
	"github.com/vietddude/explorer/internal/indexing/integrity"
	"github.com/vietddude/explorer/internal/indexing/lifecycle"
	"github.com/vietddude/explorer/internal/indexing/quota"
	"github.com/vietddude/explorer/internal/indexing/stalled"
	"github.com/vietddude/explorer/internal/indexing/syncproc"
	"github.com/vietddude/explorer/internal/indexing/trace"
	"github.com/vietddude/explorer/internal/infra/billing"
	"github.com/vietddude/explorer/internal/infra/controller"
	"github.com/vietddude/explorer/internal/infra/queue"
	"github.com/vietddude/explorer/internal/infra/rpc"
	"github.com/vietddude/explorer/internal/infra/storage"
	"github.com/vietddude/explorer/internal/infra/storage/memory"
	"github.com/vietddude/explorer/internal/infra/storage/postgres"
)

// Repositories groups the storage backends.
type Repositories struct {
	Workspaces    storage.WorkspaceRepository
	Explorers     storage.ExplorerRepository
	Subscriptions storage.SubscriptionRepository
	Blocks        storage.BlockRepository
	Transactions  storage.TransactionRepository
	Traces        storage.TraceRepository
	Transfers     storage.TokenTransferRepository
	Integrity     storage.IntegrityCheckRepository
}

// PostgresRepositories builds the repositories on a database.
func PostgresRepositories(db *postgres.DB) Repositories {
	return Repositories{
		Workspaces:    postgres.NewWorkspaceRepo(db),
		Explorers:     postgres.NewExplorerRepo(db),
		Subscriptions: postgres.NewSubscriptionRepo(db),
		Blocks:        postgres.NewBlockRepo(db),
		Transactions:  postgres.NewTxRepo(db),
		Traces:        postgres.NewTraceRepo(db),
		Transfers:     postgres.NewTransferRepo(db),
		Integrity:     postgres.NewIntegrityRepo(db),
	}
}

// MemoryRepositories builds the repositories on an in-process store.
func MemoryRepositories(store *memory.MemoryStorage) Repositories {
	return Repositories{
		Workspaces:    memory.NewWorkspaceRepo(store),
		Explorers:     memory.NewExplorerRepo(store),
		Subscriptions: memory.NewSubscriptionRepo(store),
		Blocks:        memory.NewBlockRepo(store),
		Transactions:  memory.NewTxRepo(store),
		Traces:        memory.NewTraceRepo(store),
		Transfers:     memory.NewTransferRepo(store),
		Integrity:     memory.NewIntegrityRepo(store),
	}
}

// App is the reconciliation service.
type App struct {
	cfg   *config.AppConfig
	repos Repositories
	queue queue.Queue
	db    *postgres.DB
	rdb   *redis.Client
	pool  *rpc.Pool

	worker    *queue.Worker
	scheduler *Scheduler
	healthMon *health.Monitor
	server    *health.Server

	Checker   *integrity.Checker
	Sync      *syncproc.Manager
	Transfers *backfill.Transfers
	Reverter  *stalled.Reverter

	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
	log    *slog.Logger
}

// NewApp connects to the configured backends. Without a database URL the
// in-memory store is used, without a Redis URL the in-process queue.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{cfg: cfg, log: slog.Default().With("component", "app")}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		app.db = db
		app.repos = PostgresRepositories(db)
		app.log.Info("Using PostgreSQL storage")
	} else {
		app.repos = MemoryRepositories(memory.NewMemoryStorage())
		app.log.Info("Using Memory storage")
	}

	if cfg.Redis.URL != "" {
		rdb, err := queue.NewRedisClient(cfg.Redis)
		if err != nil {
			app.closeBackends()
			return nil, err
		}
		app.rdb = rdb
		app.queue = queue.NewRedisQueue(rdb, cfg.Queue.LeaseTimeout)
		app.log.Info("Using Redis queue")
	} else {
		app.queue = queue.NewMemoryQueue()
		app.log.Info("Using in-process queue")
	}

	app.pool = rpc.NewPool(cfg.RPC.Timeout)
	app.build()
	return app, nil
}

// NewAppWith wires the service on existing backends.
func NewAppWith(cfg *config.AppConfig, repos Repositories, q queue.Queue) *App {
	app := &App{
		cfg:   cfg,
		repos: repos,
		queue: q,
		pool:  rpc.NewPool(cfg.RPC.Timeout),
		log:   slog.Default().With("component", "app"),
	}
	app.build()
	return app
}

func (a *App) build() {
	cfg, r, q := a.cfg, a.repos, a.queue

	var (
		reporter  quota.UsageReporter
		canceller lifecycle.SubscriptionCanceller
	)
	if cfg.Billing.Enabled() {
		s := billing.NewStripe(cfg.Billing)
		reporter, canceller = s, s
	}

	a.Checker = integrity.NewChecker(
		integrity.Config{TipStaleness: cfg.Integrity.TipStaleness, RPCTimeout: cfg.Integrity.RPCTimeout},
		r.Workspaces, r.Blocks, r.Integrity, q,
		func(url string) integrity.Node { return a.pool.Get(url) },
	)
	a.Transfers = backfill.NewTransfers(r.Transactions, r.Transfers, q)
	a.Reverter = stalled.NewReverter(r.Blocks, q)

	balances := backfill.NewBalances(r.Workspaces, r.Transactions, r.Transfers,
		func(url string) backfill.BalanceNode { return a.pool.Get(url) }, cfg.RPC.Timeout)
	traces := trace.NewJob(r.Workspaces, r.Transactions, trace.NewPersister(r.Workspaces, r.Traces),
		func(url string) trace.Node { return a.pool.Get(url) }, cfg.RPC.TraceTimeout)
	accountant := quota.NewAccountant(r.Blocks, r.Workspaces, r.Subscriptions, reporter, cfg.Billing.Timeout)
	sweeper := lifecycle.NewSweeper(lifecycle.Config{
		DemoMaxAge:           cfg.Lifecycle.DemoMaxAge,
		WorkspaceDeleteDelay: cfg.Lifecycle.WorkspaceDeleteDelay,
		BillingTimeout:       cfg.Billing.Timeout,
	}, r.Explorers, r.Workspaces, r.Subscriptions, canceller, q)
	wiper := worker.NewWiper(r.Workspaces, r.Blocks, cfg.Retention.BatchSize)
	pruner := worker.NewPruner(r.Workspaces, r.Blocks, cfg.Retention.BatchSize)
	scanner := stalled.NewScanner(r.Blocks, q, cfg.Stalled.MaxAge)

	a.worker = queue.NewWorker(queue.WorkerConfig{
		Concurrency:   cfg.Queue.Concurrency,
		PollInterval:  cfg.Queue.PollInterval,
		RatePerSecond: cfg.Queue.RatePerSecond,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	}, a.queue)
	a.worker.Register(queue.TypeIntegrityCheck, a.Checker.Handle)
	a.worker.Register(queue.TypeProcessTransactionTrace, traces.Handle)
	a.worker.Register(queue.TypeProcessNativeTokenTransfers, a.Transfers.Handle)
	a.worker.Register(queue.TypeProcessTokenTransfer, balances.Handle)
	a.worker.Register(queue.TypeRevertPartialBlock, a.Reverter.Handle)
	a.worker.Register(queue.TypeIncreaseStripeBillingQuota, accountant.Handle)
	a.worker.Register(queue.TypeRemoveStalledDemoExplorers, sweeper.HandleDemos)
	a.worker.Register(queue.TypeRemoveExpiredExplorers, sweeper.HandleExpired)
	a.worker.Register(queue.TypeWorkspaceReset, wiper.HandleReset)
	a.worker.Register(queue.TypeDeleteWorkspace, wiper.HandleDelete)

	if cfg.Sync.Controller.URL != "" {
		a.Sync = syncproc.NewManager(r.Explorers, controller.NewClient(cfg.Sync.Controller), cfg.Sync.Controller.Timeout)
		a.worker.Register(queue.TypeUpdateExplorerSyncingProcess, a.Sync.Handle)
	} else {
		a.log.Warn("No process controller configured, sync processes are not managed")
	}

	limiter := ratelimit.New(max(cfg.Queue.RatePerSecond, 1))
	a.scheduler = NewScheduler()
	a.scheduler.Add(Sweep{
		Name:     "integrity",
		Interval: cfg.Integrity.Interval,
		Run: func(ctx context.Context) error {
			ids, err := r.Workspaces.ListIntegrityCheckCandidates(ctx)
			if err != nil {
				return fmt.Errorf("failed to list integrity candidates: %w", err)
			}
			return fanOut(ctx, limiter, ids, func(ctx context.Context, id int64) error {
				return q.Enqueue(ctx, queue.TypeIntegrityCheck, integrity.JobName(id), integrity.Payload{WorkspaceID: id})
			})
		},
	})
	if a.Sync != nil {
		a.scheduler.Add(Sweep{
			Name:     "sync_process",
			Interval: cfg.Sync.Interval,
			Run: func(ctx context.Context) error {
				slugs, err := r.Explorers.ListSlugs(ctx)
				if err != nil {
					return fmt.Errorf("failed to list explorers: %w", err)
				}
				return fanOut(ctx, limiter, slugs, func(ctx context.Context, slug string) error {
					return q.Enqueue(ctx, queue.TypeUpdateExplorerSyncingProcess, syncproc.JobName(slug),
						syncproc.Payload{ExplorerSlug: slug})
				})
			},
		})
	}
	a.scheduler.Add(Sweep{
		Name:     "lifecycle",
		Interval: cfg.Lifecycle.Interval,
		Run: func(ctx context.Context) error {
			if err := q.Enqueue(ctx, queue.TypeRemoveStalledDemoExplorers, queue.TypeRemoveStalledDemoExplorers, nil); err != nil {
				return err
			}
			return q.Enqueue(ctx, queue.TypeRemoveExpiredExplorers, queue.TypeRemoveExpiredExplorers, nil)
		},
	})
	a.scheduler.Add(Sweep{
		Name:     "stalled",
		Interval: cfg.Stalled.Interval,
		Run: func(ctx context.Context) error {
			_, err := scanner.Scan(ctx)
			return err
		},
	})
	a.scheduler.Add(Sweep{
		Name:     "retention",
		Interval: cfg.Retention.Interval,
		Run: func(ctx context.Context) error {
			_, err := pruner.Prune(ctx)
			return err
		},
	})

	a.healthMon = health.NewMonitor(r.Integrity)
	if a.db != nil {
		a.healthMon.AddCheck("database", true, a.db.Health)
	}
	if a.rdb != nil {
		a.healthMon.AddCheck("redis", true, func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() })
	}
	a.server = health.NewServer(a.healthMon, a.queue, cfg.Server.Port)
}

// Repositories returns the storage backends.
func (a *App) Repositories() Repositories {
	return a.repos
}

// Queue returns the job queue.
func (a *App) Queue() queue.Queue {
	return a.queue
}

// Start runs the worker pool, the scheduler and the HTTP server in the background.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.group, ctx = errgroup.WithContext(ctx)

	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.group.Go(func() error { return a.worker.Run(ctx) })
	a.group.Go(func() error { return a.scheduler.Run(ctx) })

	a.log.Info("Reconciler started", "port", a.cfg.Server.Port, "job_types", len(a.worker.Types()))
	return nil
}

// Stop cancels background work, waits for in-flight jobs and closes backends.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping reconciler...")
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if a.group != nil {
		if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.closeBackends()
	return errors.Join(errs...)
}

func (a *App) closeBackends() {
	a.once.Do(func() {
		if a.pool != nil {
			a.pool.Close()
		}
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				a.log.Warn("Failed to close Redis", "error", err)
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.log.Warn("Failed to close database", "error", err)
			}
		}
	})
}
