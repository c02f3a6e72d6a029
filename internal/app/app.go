// Package app builds the long-lived services from configuration and runs one
// scrape/export/notify cycle. It is the only package that knows the concrete
// implementations.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/property-monitor/internal/backoff"
	"github.com/JakeFAU/property-monitor/internal/clock/system"
	"github.com/JakeFAU/property-monitor/internal/config"
	"github.com/JakeFAU/property-monitor/internal/export"
	"github.com/JakeFAU/property-monitor/internal/extract"
	"github.com/JakeFAU/property-monitor/internal/fetcher"
	collyfetcher "github.com/JakeFAU/property-monitor/internal/fetcher/colly"
	"github.com/JakeFAU/property-monitor/internal/id/uuid"
	"github.com/JakeFAU/property-monitor/internal/logging"
	"github.com/JakeFAU/property-monitor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/property-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/property-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/property-monitor/internal/random"
	"github.com/JakeFAU/property-monitor/internal/scraper"
	gcsstorage "github.com/JakeFAU/property-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/property-monitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/property-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/property-monitor/internal/storage/postgres"
	"github.com/JakeFAU/property-monitor/internal/store"
)

// EventRunCompleted is the notification event name for a finished run.
const EventRunCompleted = "run.completed"

// Notifier publishes run notifications.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
	Close() error
}

// Report is the outcome of one cycle. It doubles as the notification payload.
type Report struct {
	RunID string `json:"run_id"`
	scraper.Summary
	ExportPath string `json:"export_path,omitempty"`
	ExportURI  string `json:"export_uri,omitempty"`
	ExportRows int    `json:"export_rows,omitempty"`

	// ExportError is set when the run saved records but the artifact could not be written.
	ExportError string `json:"export_error,omitempty"`
}

// RunOptions tunes a single cycle.
type RunOptions struct {
	// Pages overrides scrape.pages when > 0.
	Pages int
	// SkipExport leaves the artifact untouched.
	SkipExport bool
	// OnPage is forwarded to the aggregator.
	OnPage func(scraper.PageResult)
}

// App holds the services shared by every command.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	ids      *uuid.Generator
	worker   *scraper.PageWorker
	store    store.RecordStore
	exporter *export.Exporter
	notifier Notifier

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client

	last atomic.Pointer[Report]
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("export_format", cfg.Export.Format),
		zap.String("mirror", cfg.Export.Mirror.Kind),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	if err := a.setupScraper(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupExporter(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupNotifier(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setupScraper() error {
	rnd := random.Global()
	cfg := a.cfg

	getter := collyfetcher.New(collyfetcher.Config{Timeout: cfg.Fetch.Timeout})
	var throttle fetcher.Throttle
	if cfg.Fetch.RateLimit.Enabled() {
		throttle = ratelimit.New(cfg.Fetch.RateLimit)
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", cfg.Fetch.RateLimit.RPS),
			zap.Int("burst", cfg.Fetch.RateLimit.Burst),
		)
	}
	f, err := fetcher.New(
		cfg.Fetch.Config,
		getter,
		semaphore.NewWeighted(int64(cfg.Fetch.Concurrency)),
		backoff.New(cfg.Backoff, rnd),
		a.clock,
		throttle,
		rnd,
		a.logger.Named("fetcher"),
	)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}

	ext, err := extract.New(cfg.Site.Selectors, cfg.Site.LinkBase, a.logger.Named("extract"))
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}

	a.worker = scraper.NewPageWorker(
		cfg.Site.Site,
		f,
		ext,
		a.clock,
		rnd,
		cfg.Politeness,
		cfg.Fetch.MaxAttempts,
		a.logger.Named("worker"),
	)
	a.logger.Debug("scraper wired",
		zap.Int("concurrency", cfg.Fetch.Concurrency),
		zap.Int("max_attempts", cfg.Fetch.MaxAttempts),
		zap.Duration("timeout", cfg.Fetch.Timeout),
	)
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		s, err := pgstore.New(ctx, a.cfg.Store.Postgres)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		a.store = s
		a.logger.Info("using postgres record store", zap.String("table", a.cfg.Store.Postgres.Table))
	default:
		a.logger.Warn("using in-memory record store; records are lost on exit")
		a.store = memorystorage.NewRecordStore(a.clock)
	}
	return nil
}

func (a *App) setupExporter(ctx context.Context) error {
	var mirror export.Mirror
	switch a.cfg.Export.Mirror.Kind {
	case config.MirrorGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		bs, err := gcsstorage.New(client, a.cfg.Export.Mirror.GCS)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		mirror = bs
		a.logger.Info("mirroring exports to GCS", zap.String("bucket", a.cfg.Export.Mirror.GCS.Bucket))
	case config.MirrorLocal:
		bs, err := localstorage.New(a.cfg.Export.Mirror.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		mirror = bs
		a.logger.Info("mirroring exports locally", zap.String("path", a.cfg.Export.Mirror.Local.BaseDir))
	}

	exp, err := export.New(a.cfg.Export.Config, a.store, mirror, a.clock, a.logger.Named("export"))
	if err != nil {
		return fmt.Errorf("exporter init failed: %w", err)
	}
	a.exporter = exp
	return nil
}

func (a *App) setupNotifier(ctx context.Context) error {
	if !a.cfg.Notify.Enabled {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.notifier = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	pub, err := gcppublisher.New(client, a.cfg.Notify.PubSub.TopicID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.notifier = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Notify.PubSub.ProjectID),
		zap.String("topic", a.cfg.Notify.PubSub.TopicID),
	)
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Notifier returns the configured notifier.
func (a *App) Notifier() Notifier {
	return a.notifier
}

// LastRun returns the report of the most recent cycle, if any.
func (a *App) LastRun() (Report, bool) {
	r := a.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Run performs one cycle: scrape and persist, export, notify. Only store
// failures are returned. Export is best-effort and reported in the Report; a
// failed notification is logged.
func (a *App) Run(ctx context.Context, opts RunOptions) (Report, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return Report{}, err
	}
	log := a.logger.With(zap.String("run_id", runID))

	pages := a.cfg.Scrape.Pages
	if opts.Pages > 0 {
		pages = opts.Pages
	}
	if a.cfg.Scrape.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Scrape.RunTimeout)
		defer cancel()
	}

	agg := scraper.NewAggregator(a.worker, a.store, a.clock, log.Named("aggregator"))
	agg.OnPage = opts.OnPage

	log.Info("run started", zap.Int("pages", pages))
	summary, err := agg.Run(ctx, pages)
	report := Report{RunID: runID, Summary: summary}
	if err != nil {
		return report, err
	}

	if !opts.SkipExport {
		// Records committed after cancellation still belong in the artifact.
		artifact, err := a.exporter.Export(context.WithoutCancel(ctx))
		report.ExportPath = artifact.Path
		report.ExportURI = artifact.URI
		report.ExportRows = artifact.Rows
		if err != nil {
			log.Error("export failed", zap.Error(err))
			report.ExportError = err.Error()
		}
	}
	a.last.Store(&report)

	a.notify(context.WithoutCancel(ctx), report, log)
	log.Info("run finished",
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Export writes the current store contents without scraping.
func (a *App) Export(ctx context.Context) (export.Artifact, error) {
	return a.exporter.Export(ctx)
}

func (a *App) notify(ctx context.Context, report Report, log *zap.Logger) {
	if a.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	id, err := a.notifier.Publish(ctx, EventRunCompleted, report)
	if err != nil {
		log.Warn("run notification failed", zap.Error(err))
		return
	}
	log.Debug("run notification published", zap.String("message_id", id))
}

// Close gracefully shuts down every service. It is safe to call on a
// partially built App.
func (a *App) Close() {
	var errs []error
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("record store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}
