// Package app builds every long-lived service from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/api"
	"github.com/JakeFAU/mylist-importer/internal/clock/system"
	"github.com/JakeFAU/mylist-importer/internal/config"
	"github.com/JakeFAU/mylist-importer/internal/enricher"
	collyfetcher "github.com/JakeFAU/mylist-importer/internal/fetcher/colly"
	"github.com/JakeFAU/mylist-importer/internal/fetcher/headless"
	"github.com/JakeFAU/mylist-importer/internal/hash/sha256"
	"github.com/JakeFAU/mylist-importer/internal/headless/detector"
	"github.com/JakeFAU/mylist-importer/internal/id/uuid"
	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/pipeline"
	"github.com/JakeFAU/mylist-importer/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/mylist-importer/internal/publisher/memory"
	"github.com/JakeFAU/mylist-importer/internal/publisher/pubsub"
	"github.com/JakeFAU/mylist-importer/internal/resolver"
	"github.com/JakeFAU/mylist-importer/internal/runner"
	"github.com/JakeFAU/mylist-importer/internal/sink"
	"github.com/JakeFAU/mylist-importer/internal/sink/cms"
	"github.com/JakeFAU/mylist-importer/internal/sink/file"
	"github.com/JakeFAU/mylist-importer/internal/sink/gcs"
	sinkmemory "github.com/JakeFAU/mylist-importer/internal/sink/memory"
	"github.com/JakeFAU/mylist-importer/internal/sink/postgres"
)

// LocalTopic is the topic name used with the in-process publisher.
const LocalTopic = "mylist.imports"

// localEventLimit bounds the completion events kept in process.
const localEventLimit = 100

// App holds the services shared by every command.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	enricher     *enricher.Enricher
	events       *pubmemory.Publisher
	checks       []api.ReadyFunc
	closers      []func() error
}

// New wires the import pipeline from cfg. On error every service created so
// far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: cfg.HTTP.RateLimitBurst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
	}, collyfetcher.WithLimiter(limiter))

	var (
		rendered   mylist.Fetcher
		enrichOpts []enricher.Option
	)
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Settle:            time.Duration(cfg.Headless.SettleMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.onClose(func() error { hf.Close(); return nil })
		rendered = hf
		enrichOpts = append(enrichOpts, enricher.WithRenderDetector(detector.NewHeuristic(cfg.Headless.RenderMinBytes)))
	}

	res := resolver.New(fetcher, resolver.Config{
		APIBaseURL:      cfg.Upstream.APIBaseURL,
		FeedBaseURL:     cfg.Upstream.FeedBaseURL,
		PageSize:        cfg.Upstream.PageSize,
		MaxPages:        cfg.Upstream.MaxPages,
		FrontendID:      cfg.Upstream.FrontendID,
		FrontendVersion: cfg.Upstream.FrontendVersion,
	}, logger.Named("resolver"))

	a.enricher = enricher.New(fetcher, rendered, enricher.Config{
		WatchBaseURL: cfg.Upstream.WatchBaseURL,
		ThumbnailDir: cfg.Output.ThumbnailDir,
		ThumbnailExt: cfg.Output.ThumbnailExt,
	}, logger.Named("enricher"), enrichOpts...)

	hasher := sha256.New()
	ids := uuid.New()
	clock := system.New()

	sinks, err := a.buildSinks(ctx, hasher, ids, clock)
	if err != nil {
		return nil, err
	}

	publisher, topic, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.orchestrator, err = pipeline.New(pipeline.Deps{
		Resolver:  res,
		Enricher:  a.enricher,
		Runner:    runner.New(runner.Config{Concurrency: cfg.Importer.Concurrency, Delay: cfg.ItemDelay()}, logger.Named("runner")),
		Sinks:     sink.NewRegistry(sinks...),
		Publisher: publisher,
		Topic:     topic,
		IDs:       ids,
		Clock:     clock,
		Logger:    logger.Named("pipeline"),
	}, cfg.Importer.DefaultSink)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.Strings("sinks", a.orchestrator.Sinks()),
		zap.String("default_sink", cfg.Importer.DefaultSink),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("pubsub", cfg.PublishEnabled()))
	return a, nil
}

func (a *App) buildSinks(ctx context.Context, hasher mylist.Hasher, ids mylist.IDGenerator, clock mylist.Clock) ([]mylist.Sink, error) {
	cfg := a.cfg
	fileSink, err := file.New(file.Config{BaseDir: cfg.Output.DataDir}, hasher)
	if err != nil {
		return nil, fmt.Errorf("init file sink: %w", err)
	}
	sinks := []mylist.Sink{fileSink, sinkmemory.New(ids, clock, hasher)}

	if cfg.SinkEnabled(gcs.Name) {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(client.Close)
		gcsSink, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, hasher)
		if err != nil {
			return nil, fmt.Errorf("init gcs sink: %w", err)
		}
		sinks = append(sinks, gcsSink)
	}

	if cfg.SinkEnabled(cms.Name) {
		cmsSink, err := cms.New(cms.Config{
			BaseURL:      cfg.CMS.BaseURL,
			Endpoint:     cfg.CMS.Endpoint,
			APIKey:       cfg.CMS.APIKey,
			APIKeyHeader: cfg.CMS.APIKeyHeader,
			LabelField:   cfg.CMS.LabelField,
			RecordsField: cfg.CMS.RecordsField,
			Timeout:      time.Duration(cfg.CMS.TimeoutSeconds) * time.Second,
		}, hasher, cms.WithLogger(a.logger.Named("cms")))
		if err != nil {
			return nil, fmt.Errorf("init cms sink: %w", err)
		}
		sinks = append(sinks, cmsSink)
	}

	if cfg.SinkEnabled(postgres.Name) {
		pgSink, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		}, postgres.Deps{Hasher: hasher, IDs: ids, Clock: clock})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		a.onClose(func() error { pgSink.Close(); return nil })
		if cfg.Postgres.AutoMigrate {
			if err := pgSink.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		a.checks = append(a.checks, pgSink.Ping)
		sinks = append(sinks, pgSink)
	}
	return sinks, nil
}

func (a *App) buildPublisher(ctx context.Context) (mylist.Publisher, string, error) {
	if !a.cfg.PublishEnabled() {
		a.events = pubmemory.NewBounded(localEventLimit)
		return a.events, LocalTopic, nil
	}
	pub, err := pubsub.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.onClose(pub.Close)
	return pub, a.cfg.PubSub.Topic, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Importer returns the pipeline, reporting per-item progress to fn when set.
func (a *App) Importer(fn runner.ProgressFunc) api.Importer {
	if fn == nil {
		return a.orchestrator
	}
	return a.orchestrator.WithProgress(fn)
}

// Scraper returns the OGP scraper used by the enricher.
func (a *App) Scraper() api.Scraper {
	return a.enricher
}

// LocalEvents returns the most recent completion events kept in process
// when Pub/Sub is not configured, or nil.
func (a *App) LocalEvents() []pubmemory.PublishedMessage {
	if a.events == nil {
		return nil
	}
	return a.events.Messages()
}

// Ready runs every readiness check.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.Importer(nil), a.Scraper(), api.Config{
		AuthEnabled:     a.cfg.Auth.Enabled,
		APIKey:          a.cfg.Auth.APIKey,
		RequestTimeout:  time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
		OGPAllowedHosts: a.cfg.Server.OGPAllowedHosts,
		Ready:           a.Ready,
	}, a.logger.Named("api")).Handler()
}

// Close releases services in reverse creation order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
