package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/egress/internal/core/config"
	"github.com/vietddude/egress/internal/core/worker"
	"github.com/vietddude/egress/internal/infra/egress/cost"
	redisclient "github.com/vietddude/egress/internal/infra/redis"
	"github.com/vietddude/egress/internal/infra/storage"
	"github.com/vietddude/egress/internal/infra/storage/file"
	"github.com/vietddude/egress/internal/infra/storage/postgres"
	"github.com/vietddude/egress/internal/routing/health"
	"github.com/vietddude/egress/internal/routing/metrics"
)

// App is the main application struct that manages the routing service
// lifecycle.
type App struct {
	cfg          *config.AppConfig
	controller   *Controller
	store        storage.SnapshotStore
	db           *postgres.DB
	redisClient  *redisclient.Client
	healthServer *health.Server
	pruner       *worker.Pruner
	snapshotter  *worker.Snapshotter

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewApp creates a new App with all dependencies initialized and the last
// snapshot restored.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	unitCosts, err := cost.ParseUnitCosts(cfg.Costs)
	if err != nil {
		return nil, fmt.Errorf("invalid costs: %w", err)
	}

	// 1. Initialize Controller
	ctrlCfg := DefaultControllerConfig()
	ctrlCfg.Reputation = cfg.Reputation
	ctrlCfg.Recovery = cfg.Recovery
	ctrlCfg.Selector = cfg.Selector
	ctrlCfg.UnitCosts = unitCosts
	if cfg.Controller.BanConfidence > 0 {
		ctrlCfg.BanConfidence = cfg.Controller.BanConfidence
	}
	controller := NewController(ctrlCfg)

	a := &App{
		cfg:        cfg,
		controller: controller,
		log:        slog.Default(),
	}

	// 2. Initialize Redis
	if cfg.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			if cfg.Snapshot.Backend == config.BackendRedis {
				return nil, err
			}
			a.log.Warn("Failed to connect to Redis, peer events disabled", "error", err)
		} else {
			controller.SetAnnouncer(a.redisClient)
		}
	}

	// 3. Initialize Storage
	if err := a.openStore(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}

	// 4. Restore state, then admit configured proxies on top of it
	if a.store != nil {
		snap, err := a.store.Load(ctx)
		switch {
		case errors.Is(err, storage.ErrSnapshotNotFound):
			a.log.Info("No snapshot found, starting fresh", "backend", cfg.Snapshot.Backend)
		case err != nil:
			a.log.Warn("Failed to load snapshot, starting fresh", "backend", cfg.Snapshot.Backend, "error", err)
		default:
			controller.Restore(snap)
			a.log.Info("Restored snapshot",
				"id", snap.ID,
				"taken_at", snap.TakenAt,
				"domains", len(snap.Domains),
				"proxies", len(snap.Proxies),
			)
		}
	}
	if added := controller.AdmitProxies(cfg.Proxies...); added > 0 {
		a.log.Info("Admitted configured proxies", "count", added)
	}

	// 5. Initialize Workers and Server
	if cfg.Server.Port > 0 {
		a.healthServer = health.NewServer(
			controller,
			func() any { return controller.Statistics() },
			cfg.Server.Port,
			cfg.Maintenance.PruneThreshold,
		)
	}
	a.pruner = worker.NewPruner(cfg.Maintenance.PruneInterval, cfg.Maintenance.PruneThreshold, controller)
	if a.store != nil {
		a.snapshotter = worker.NewSnapshotter(cfg.Snapshot.Interval, a.SaveSnapshot)
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Snapshot.Backend {
	case config.BackendFile:
		a.store = file.NewStore(a.cfg.Snapshot.Path)
		a.log.Info("Using file snapshot storage", "path", a.cfg.Snapshot.Path)

	case config.BackendRedis:
		if a.redisClient == nil {
			return fmt.Errorf("redis snapshot backend needs a redis connection")
		}
		a.store = a.redisClient
		a.log.Info("Using Redis snapshot storage")

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		a.store = postgres.NewSnapshotRepo(db, a.cfg.Database.Keep)
		a.log.Info("Using PostgreSQL snapshot storage")

	default:
		a.log.Info("Snapshots disabled")
	}
	return nil
}

// Controller returns the routing controller.
func (a *App) Controller() *Controller {
	return a.controller
}

// Store returns the snapshot store, or nil when persistence is disabled.
func (a *App) Store() storage.SnapshotStore {
	return a.store
}

// SaveSnapshot persists the current state to the configured backend.
func (a *App) SaveSnapshot(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	snap := a.controller.Snapshot()
	if err := a.store.Save(ctx, snap); err != nil {
		metrics.SnapshotsSaved.WithLabelValues(a.cfg.Snapshot.Backend, "failure").Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	metrics.SnapshotsSaved.WithLabelValues(a.cfg.Snapshot.Backend, "success").Inc()
	a.log.Debug("Saved snapshot", "id", snap.ID, "domains", len(snap.Domains))
	return nil
}

// Start starts the server and background workers. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Start Health Server
	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	// Start Peer Event Subscriber
	if a.redisClient != nil {
		sub, err := a.redisClient.Subscribe(ctx)
		if err != nil {
			a.log.Warn("Failed to subscribe to peer events", "error", err)
		} else {
			a.goWorker(func() {
				defer sub.Close()
				sub.Run(ctx, a.controller.HandlePeerEvent)
			})
		}
	}

	// Start Workers
	if a.snapshotter != nil {
		a.goWorker(func() { a.snapshotter.Start(ctx) })
	}
	a.goWorker(func() { a.pruner.Start(ctx) })

	a.log.Info("Egress controller started",
		"proxies", a.controller.PoolSize(),
		"snapshot_backend", a.cfg.Snapshot.Backend,
		"port", a.cfg.Server.Port,
	)
	return nil
}

func (a *App) goWorker(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop stops workers, saves a final snapshot and shuts the server down.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping egress controller...")

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if err := a.SaveSnapshot(ctx); err != nil {
		errs = append(errs, err)
	}

	// Stop Health Server
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.closeBackends()
	return errors.Join(errs...)
}

// Close releases backends without saving. Use Stop for a running app.
func (a *App) Close() {
	a.closeBackends()
}

func (a *App) closeBackends() {
	switch {
	case a.store != nil && a.cfg.Snapshot.Backend != config.BackendRedis:
		// Closes the database too when the store is PostgreSQL.
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close snapshot store", "error", err)
		}
	case a.db != nil:
		_ = a.db.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
}
