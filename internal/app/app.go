// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/backlink-monitor/internal/api"
	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/checker"
	"github.com/JakeFAU/backlink-monitor/internal/clock/system"
	"github.com/JakeFAU/backlink-monitor/internal/config"
	"github.com/JakeFAU/backlink-monitor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/backlink-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/backlink-monitor/internal/id/uuid"
	"github.com/JakeFAU/backlink-monitor/internal/logging"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
	"github.com/JakeFAU/backlink-monitor/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/backlink-monitor/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/backlink-monitor/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/backlink-monitor/internal/queue/memory"
	"github.com/JakeFAU/backlink-monitor/internal/scheduler"
	"github.com/JakeFAU/backlink-monitor/internal/seo"
	"github.com/JakeFAU/backlink-monitor/internal/snapshot"
	"github.com/JakeFAU/backlink-monitor/internal/statemachine"
	"github.com/JakeFAU/backlink-monitor/internal/storage/gcs"
	"github.com/JakeFAU/backlink-monitor/internal/storage/local"
	"github.com/JakeFAU/backlink-monitor/internal/storage/memory"
	"github.com/JakeFAU/backlink-monitor/internal/storage/postgres"
	"github.com/JakeFAU/backlink-monitor/internal/tasks"
	"github.com/JakeFAU/backlink-monitor/internal/telemetry"
	"github.com/JakeFAU/backlink-monitor/internal/urlguard"
	"github.com/JakeFAU/backlink-monitor/internal/webhook"
	"github.com/JakeFAU/backlink-monitor/internal/worker"
)

// App holds all the shared, long-lived services for the application.
// It is built once per command and closed when the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  backlink.Clock
	ids    backlink.IDGenerator

	store     backlink.Store
	blobs     backlink.BlobStore
	publisher backlink.Publisher
	ready     api.ReadinessCheck
	closers   []func()

	guard    *urlguard.Validator
	checker  *checker.Checker
	machine  *statemachine.Machine
	notifier *webhook.Notifier
	seo      seo.Provider
}

// Option overrides a backend chosen from configuration.
type Option func(*App)

// WithStore replaces the configured backlink store.
func WithStore(s backlink.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBlobStore replaces the configured snapshot store.
func WithBlobStore(b backlink.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// WithPublisher replaces the configured alert event publisher.
func WithPublisher(p backlink.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithGuard replaces the URL validator built from urlguard.blocked_ranges.
func WithGuard(v *urlguard.Validator) Option {
	return func(a *App) { a.guard = v }
}

// WithClock replaces the wall clock.
func WithClock(c backlink.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New creates and initializes an App from configuration. It fails fast if any
// backend cannot be initialized; anything opened before the failure is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("snapshots", a.blobs != nil),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.String("seo", a.seo.Name()),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initTracing(ctx); err != nil {
		return err
	}
	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			return err
		}
	}
	if a.blobs == nil && a.cfg.Storage.Snapshots {
		if err := a.openBlobs(ctx); err != nil {
			return err
		}
	}
	if a.publisher == nil {
		if err := a.openPublisher(ctx); err != nil {
			return err
		}
	}
	if a.guard == nil {
		blocked, err := urlguard.ParseRanges(a.cfg.URLGuard.BlockedRanges)
		if err != nil {
			return fmt.Errorf("parse blocked ranges: %w", err)
		}
		var guardOpts []urlguard.Option
		if len(blocked) > 0 {
			guardOpts = append(guardOpts, urlguard.WithBlockedRanges(blocked))
		}
		a.guard = urlguard.New(guardOpts...)
	}

	provider, err := seo.New(a.cfg.SEO)
	if err != nil {
		return fmt.Errorf("init seo provider: %w", err)
	}
	a.seo = provider

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.Fetch.Timeout,
		MaxBodySize: a.cfg.Fetch.MaxBodySize,
	}, a.guard)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Fetch.PerHostRPS,
		DefaultBurst: a.cfg.Fetch.PerHostBurst,
	})
	a.checker = checker.New(a.guard, fetcher, limiter, a.logger.Named("checker"))

	var machineOpts []statemachine.Option
	if a.blobs != nil {
		machineOpts = append(machineOpts, statemachine.WithSnapshotter(snapshot.New(a.blobs)))
	}
	a.machine = statemachine.New(a.store, a.clock, a.ids, a.logger.Named("statemachine"), machineOpts...)
	a.notifier = webhook.New(a.guard, a.logger.Named("webhook"), webhook.WithTimeout(a.cfg.Webhook.Timeout), webhook.WithClock(a.clock))
	return nil
}

func (a *App) initTracing(ctx context.Context) error {
	if a.cfg.Telemetry.Exporter == "" || a.cfg.Telemetry.Exporter == telemetry.ExporterNone {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, logging.Service, a.cfg.Telemetry, nil)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DatabasePostgres:
		a.logger.Info("connecting to postgres")
		store, err := postgres.NewStore(ctx, a.cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = store
		a.ready = store.Ping
		a.closers = append(a.closers, store.Close)
	case config.DatabaseMemory, "":
		a.logger.Warn("using in-memory backlink store; data is lost on exit")
		a.store = memory.NewStore()
	default:
		return fmt.Errorf("unknown database driver: %s", a.cfg.Database.Driver)
	}
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		blobs, err := gcs.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.blobs = blobs
	case config.StorageLocal:
		blobs, err := local.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.blobs = blobs
	case config.StorageMemory, "":
		a.blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case config.PublisherPubSub:
		a.logger.Info("connecting to pub/sub", zap.String("topic", a.cfg.Publisher.Topic))
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		p := pubsubpublisher.New(client)
		a.publisher = p
		a.closers = append(a.closers, func() {
			p.Stop()
			if err := client.Close(); err != nil {
				a.logger.Warn("close pubsub client", zap.Error(err))
			}
		})
	case config.PublisherMemory:
		a.publisher = pubmemory.New()
	case config.PublisherNone, "":
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

// Store exposes the backlink store.
func (a *App) Store() backlink.Store {
	return a.store
}

// Checker exposes the backlink checker for one-off checks.
func (a *App) Checker() *checker.Checker {
	return a.checker
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// pipeline is one set of queues and worker pools. Each command run builds its own.
type pipeline struct {
	verifyQueue  *queuememory.Queue
	deliverQueue *queuememory.Queue
	verify       *dispatcher.Dispatcher
	deliver      *dispatcher.Dispatcher
	scheduler    *scheduler.Scheduler
}

func (a *App) newPipeline() *pipeline {
	w := a.cfg.Workers
	vq := queuememory.NewQueue(w.QueueDepth)
	dq := queuememory.NewQueue(w.QueueDepth)

	topic := ""
	if a.publisher != nil {
		topic = a.cfg.Publisher.Topic
	}
	verifyHandler := tasks.NewVerifyHandler(a.store, a.checker, a.machine, a.seo, a.publisher, dq,
		tasks.VerifyConfig{AlertTopic: topic}, a.logger.Named("verify"))
	deliverHandler := tasks.NewDeliverHandler(a.store, a.notifier, a.logger.Named("deliver"))

	return &pipeline{
		verifyQueue:  vq,
		deliverQueue: dq,
		verify: dispatcher.NewPool(vq, w.Verify.Size, verifyHandler, retryPolicy(w.Verify),
			worker.Config{Pool: "verify", AttemptTimeout: w.Verify.AttemptTimeout}, a.logger.Named("worker")),
		deliver: dispatcher.NewPool(dq, w.Deliver.Size, deliverHandler, retryPolicy(w.Deliver),
			worker.Config{Pool: "deliver", AttemptTimeout: w.Deliver.AttemptTimeout}, a.logger.Named("worker")),
		scheduler: scheduler.New(a.store, vq, a.clock, a.logger.Named("scheduler")),
	}
}

// run starts both pools on ctx and returns once the verify queue is closed and
// both pools have drained. The deliver queue closes after the last verification.
func (p *pipeline) run(ctx context.Context) {
	verifyDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(verifyDone)
		p.verify.Run(ctx)
		return nil
	})
	g.Go(func() error {
		p.deliver.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-verifyDone
		p.deliverQueue.Close()
		return nil
	})
	_ = g.Wait()
}

func retryPolicy(p config.PoolConfig) worker.RetryPolicy {
	return worker.NewExponentialRetryPolicy(p.MaxAttempts, p.BackoffBase, p.BackoffMax)
}

// RunBatch verifies every backlink matching sel, waits for verification and
// delivery to drain, and returns how many backlinks were queued.
func (a *App) RunBatch(ctx context.Context, sel backlink.Selection) (int, error) {
	p := a.newPipeline()
	g, gctx := errgroup.WithContext(ctx)

	var queued int
	g.Go(func() error {
		p.run(gctx)
		return nil
	})
	g.Go(func() error {
		defer p.verifyQueue.Close()
		n, err := p.scheduler.Dispatch(gctx, sel)
		queued = n
		return err
	})
	if err := g.Wait(); err != nil {
		return queued, fmt.Errorf("run batch: %w", err)
	}
	a.logger.Info("batch finished", zap.Int("queued", queued))
	return queued, nil
}

// CheckURL runs one check without touching the store.
func (a *App) CheckURL(ctx context.Context, sourceURL, targetURL string) backlink.CheckResult {
	return a.checker.CheckURL(ctx, sourceURL, targetURL)
}

// PruneAlerts deletes read alerts older than olderThan.
func (a *App) PruneAlerts(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}
	cutoff := a.clock.Now().Add(-olderThan)
	n, err := a.store.DeleteReadAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	a.logger.Info("read alerts pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// Serve listens on the configured port. See ServeListener.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener runs the HTTP API, the cron timetable and both worker pools
// until ctx ends. On shutdown the server stops accepting requests, the queues
// close and workers drain for up to server.shutdown_timeout.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	p := a.newPipeline()
	apiServer := api.NewServer(api.Deps{
		Store:        a.store,
		Enqueuer:     p.scheduler,
		Acknowledger: a.machine,
		Webhooks:     a.notifier,
		Ready:        a.ready,
	}, a.cfg.Auth, a.logger.Named("api"))
	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var cron *scheduler.Cron
	if a.cfg.Cron.Enabled && len(a.cfg.Cron.Jobs) > 0 {
		c, err := scheduler.NewCron(p.scheduler, a.cfg.Cron.Jobs, a.logger.Named("cron"))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("init cron: %w", err)
		}
		cron = c
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	drained := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(drained)
		p.run(workCtx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cron != nil {
		g.Go(func() error {
			return cron.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		p.verifyQueue.Close()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			a.logger.Warn("worker drain timed out, abandoning in-flight tasks")
			cancelWork()
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("shutdown complete")
	return err
}
