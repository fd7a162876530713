package entrypoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mrlokans/shelfsync/internal/cache"
	"github.com/mrlokans/shelfsync/internal/config"
	"github.com/mrlokans/shelfsync/internal/database"
	syncdb "github.com/mrlokans/shelfsync/internal/database/sync"
	"github.com/mrlokans/shelfsync/internal/entities"
	http_controllers "github.com/mrlokans/shelfsync/internal/http"
	"github.com/mrlokans/shelfsync/internal/logging"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
	"github.com/mrlokans/shelfsync/internal/remote"
	"github.com/mrlokans/shelfsync/internal/scheduler"
	"github.com/mrlokans/shelfsync/internal/storage"
	"github.com/mrlokans/shelfsync/internal/syncer"
	"github.com/mrlokans/shelfsync/internal/tasks"
)

// App holds every long-lived component of a running instance.
type App struct {
	Config  *config.Config
	DB      *database.Database
	Remote  *remote.Client
	Queue   *queue.Queue
	Cache   *cache.Cache
	Monitor *network.Monitor
	Sync    *syncer.Manager

	// Optional; nil when the task queue is disabled.
	Tasks     *tasks.Client
	Submitter *tasks.Submitter

	Scheduler *scheduler.Scheduler
	Events    *http_controllers.EventHub

	log         *zerolog.Logger
	unsubscribe []func()
	taskCancel  context.CancelFunc
}

// Build opens the durable store and wires every component. Nothing runs in
// the background until Start.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.Get("main")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.Open(cfg.Database.Path, database.Options{LogLevel: logging.GormLevel(cfg.Log.Level)})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &App{Config: cfg, DB: db, log: log}

	app.Remote = remote.NewClient(remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		Timeout:   cfg.Remote.Timeout,
		UserAgent: cfg.Remote.UserAgent,
		ProbePath: cfg.Network.ProbePath,
	})

	fetcher, err := newFetcher(ctx, cfg, app.Remote)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.Queue = queue.New(db, queue.Config{
		DefaultPriority: cfg.Queue.DefaultPriority,
		MaxRetries:      cfg.Queue.MaxRetries,
	})
	app.Cache = cache.New(db, fetcher, cache.Config{
		MaxBooks:   cfg.Cache.MaxBooks,
		ExpiryDays: cfg.Cache.ExpiryDays,
	})
	app.Monitor = network.NewMonitor(app.Remote, network.Config{
		ProbeTimeout:  cfg.Network.ProbeTimeout,
		InitialOnline: cfg.Network.AssumeOnline,
	})

	router := syncer.NewRouter()
	for typ, handler := range app.Remote.Handlers() {
		router.Handle(typ, handler)
	}
	app.Sync = syncer.NewManager(app.Queue, router, app.Monitor, syncer.Config{
		DispatchTimeout: cfg.Sync.DispatchTimeout,
		RetryBackoff:    cfg.Sync.RetryBackoff,
		MaxBackoff:      cfg.Sync.MaxBackoff,
	})
	app.Sync.SetProgressReporter(syncdb.NewRepository(db))

	if cfg.Tasks.Enabled {
		client, err := tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			BackgroundDelay: cfg.Tasks.BackgroundDelay,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		client.Register(
			tasks.NewCacheBookQueue(app.Cache),
			tasks.NewCleanupExpiredBooksQueue(app.Cache, syncdb.NewRepositoryWithType(db, entities.SyncTypeCacheCleanup)),
		)
		app.Tasks = client
		app.Submitter = tasks.NewSubmitter(client, cfg.Tasks.BackgroundDelay)
	}

	var submitter scheduler.TaskSubmitter
	if app.Submitter != nil {
		submitter = app.Submitter
	}
	schedCfg := scheduler.Config{
		CleanupSchedule:   cfg.Cache.CleanupSchedule,
		CleanupMaxAgeDays: cfg.Cache.ExpiryDays,
	}
	if cfg.Sync.Enabled {
		schedCfg.SyncInterval = cfg.Sync.Interval
	}
	app.Scheduler = scheduler.New(schedCfg, app.Sync, app.Monitor, submitter)

	app.Events = http_controllers.NewEventHub()

	return app, nil
}

func newFetcher(ctx context.Context, cfg *config.Config, client *remote.Client) (cache.Fetcher, error) {
	if cfg.ContentStore.Backend != config.ContentBackendMinio {
		return client, nil
	}
	store, err := storage.NewMinioClient(ctx, storage.MinioConfig{
		Endpoint:  cfg.ContentStore.Endpoint,
		AccessKey: cfg.ContentStore.AccessKey,
		SecretKey: cfg.ContentStore.SecretKey,
		Bucket:    cfg.ContentStore.Bucket,
		UseSSL:    cfg.ContentStore.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content store: %w", err)
	}
	logging.Get("main").Info().
		Str("endpoint", cfg.ContentStore.Endpoint).
		Str("bucket", store.Bucket()).
		Msg("book content served from object storage")
	return storage.NewContentFetcher(store, store.Bucket(), cfg.ContentStore.Prefix), nil
}

// Start probes the remote service, connects the live event stream and
// starts the sync manager, task workers and scheduler.
func (a *App) Start(ctx context.Context) error {
	a.unsubscribe = append(a.unsubscribe,
		a.Queue.OnChange(a.Events.PublishQueueEvent),
		a.Queue.OnPermanentFailure(a.onPermanentFailure),
		a.Sync.OnStatusChanged(a.Events.PublishSyncStatus),
		a.Monitor.OnChange(a.Events.PublishNetworkState),
	)

	online := a.Monitor.TestConnectivity(ctx)
	a.log.Info().Bool("online", online).Str("remote", a.Config.Remote.BaseURL).Msg("initial connectivity probe")

	if a.Tasks != nil {
		var taskCtx context.Context
		taskCtx, a.taskCancel = context.WithCancel(ctx)
		go a.Tasks.Start(taskCtx)
	}

	if a.Config.Sync.Enabled {
		if err := a.Sync.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync manager: %w", err)
		}
	} else {
		a.log.Warn().Msg("automatic sync disabled, actions replay only on request")
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

func (a *App) onPermanentFailure(f queue.PermanentFailure) {
	a.log.Warn().
		Str("action_id", f.Action.ID).
		Str("type", string(f.Action.Type)).
		Int("retry_count", f.Action.RetryCount).
		Err(f.Err).
		Msg("action permanently failed")
	a.Events.PublishPermanentFailure(f)
}

// Shutdown stops background work, letting an in-flight action finish.
func (a *App) Shutdown(ctx context.Context) {
	a.Scheduler.Stop()
	a.Sync.Stop()
	if a.Tasks != nil && a.taskCancel != nil {
		a.Tasks.Stop(ctx)
		a.taskCancel()
	}
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	a.unsubscribe = nil
	a.Events.Close()
}

// Close releases the task queue and the durable store.
func (a *App) Close() error {
	var errs []error
	if a.Tasks != nil {
		if err := a.Tasks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close task client: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// RouterConfig returns the HTTP dependencies of the app.
func (a *App) RouterConfig(version string) http_controllers.RouterConfig {
	cfg := http_controllers.RouterConfig{
		Database: a.DB,
		Queue:    a.Queue,
		Sync:     a.Sync,
		Network:  a.Monitor,
		Cache:    a.Cache,
		Events:   a.Events,
		Version:  version,
	}
	if a.Submitter != nil {
		cfg.Tasks = a.Submitter
		cfg.TaskStatus = a.Tasks
	}
	return cfg
}
