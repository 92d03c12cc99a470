package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/api"
	"github.com/JakeFAU/boltflow/internal/auth"
	"github.com/JakeFAU/boltflow/internal/config"
	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/notify"
	"github.com/JakeFAU/boltflow/internal/notify/redisrelay"
	"github.com/JakeFAU/boltflow/internal/orchestrator"
	"github.com/JakeFAU/boltflow/internal/progress"
	"github.com/JakeFAU/boltflow/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/boltflow/internal/publisher/pubsub"
	"github.com/JakeFAU/boltflow/internal/ratelimit"
	"github.com/JakeFAU/boltflow/internal/scraper"
	collyscraper "github.com/JakeFAU/boltflow/internal/scraper/colly"
	"github.com/JakeFAU/boltflow/internal/scraper/headless"
	"github.com/JakeFAU/boltflow/internal/storage/gcs"
	"github.com/JakeFAU/boltflow/internal/storage/local"
	"github.com/JakeFAU/boltflow/internal/storage/memory"
	"github.com/JakeFAU/boltflow/internal/storage/postgres"
)

// stack is everything serve builds; close releases it in reverse order.
type stack struct {
	closers []func(context.Context)
	ready   map[string]api.ReadinessCheck
}

func (s *stack) onClose(fn func(context.Context)) {
	s.closers = append(s.closers, fn)
}

func (s *stack) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
}

type stores interface {
	jobs.Store
	jobs.UserStore
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	st := &stack{ready: map[string]api.ReadinessCheck{}}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
		defer cancel()
		st.close(closeCtx)
	}()

	store, err := openStore(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	blobs, err := openBlobStore(ctx, cfg, st)
	if err != nil {
		return err
	}
	publisher, err := openPublisher(ctx, cfg, st, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	st.onClose(func(context.Context) { hub.CloseAll() })
	var notifier notify.Notifier = hub
	if cfg.Notify.RedisURL != "" {
		relay, err := redisrelay.New(cfg.Notify.RedisURL, cfg.Notify.RedisChannel, hub, logger)
		if err != nil {
			return err
		}
		relayCtx, cancelRelay := context.WithCancel(context.WithoutCancel(ctx))
		go func() {
			if err := relay.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		st.onClose(func(context.Context) {
			cancelRelay()
			_ = relay.Close()
		})
		st.ready["redis"] = relay.Ping
		notifier = relay
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	recorder := progress.NewRecorder(progress.RecorderConfig{Logger: logger}, sinks.NewLogSink(logger), promSink)
	bridge := progress.NewBridge(store, notifier, recorder, jobs.SystemClock{}, logger)

	engine := buildEngine(cfg, blobs, st, logger)
	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Scraper:   engine,
		Bridge:    bridge,
		Publisher: publisher,
		Validator: scraper.NewValidator(scraper.ValidatorConfig{
			MaxPagesLimit:     cfg.Scrape.MaxPagesLimit,
			BlockedHosts:      cfg.Scrape.BlockedHosts,
			AllowPrivateHosts: cfg.Scrape.AllowPrivateHosts,
		}),
	}, orchestrator.Config{
		Timeout:         cfg.JobTimeout(),
		ProgressBuffer:  cfg.Scrape.ProgressBuffer,
		MaxPagesDefault: cfg.Scrape.MaxPagesDefault,
	}, logger)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(auth.TokenConfig{
		SecretKey: cfg.Auth.SecretKey,
		TTL:       cfg.TokenTTL(),
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}
	apiServer := api.NewServer(api.Deps{
		Scrapes:  orch,
		Accounts: auth.NewService(store, tokens, cfg.Auth.BcryptCost, logger),
		Tokens:   tokens,
		Hub:      hub,
		Limiter: ratelimit.New(ratelimit.Config{
			Enabled:  cfg.RateLimit.Enabled,
			Requests: cfg.RateLimit.Requests,
			Period:   cfg.RatePeriod(),
		}),
		Ready: st.ready,
	}, api.Options{
		CORSOrigins:  cfg.Server.CORSOrigins,
		WriteTimeout: cfg.WriteTimeout(),
		Version:      version,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs still running at shutdown", zap.Int("in_flight", orch.InFlight()), zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("recorder close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func postgresConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnMaxLifetime(),
	}
}

// openStore connects to Postgres and migrates it, or falls back to the
// in-memory store when no DSN is configured.
func openStore(ctx context.Context, cfg config.Config, st *stack, logger *zap.Logger) (stores, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set; using in-memory store")
		return memory.NewStore(), nil
	}
	pool, err := postgres.Connect(ctx, postgresConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	store, err := postgres.NewStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	st.onClose(func(context.Context) { store.Close() })
	st.ready["postgres"] = pool.Ping
	return store, nil
}

func openBlobStore(ctx context.Context, cfg config.Config, st *stack) (jobs.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendLocal:
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		st.onClose(func(context.Context) { _ = client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
	default:
		return memory.NewBlobStore(), nil
	}
}

func openPublisher(ctx context.Context, cfg config.Config, st *stack, logger *zap.Logger) (jobs.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("pubsub.project_id not set; completion events are not published")
		return nil, nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: cfg.PubSub.ProjectID,
		Topic:     cfg.PubSub.Topic,
	})
	if err != nil {
		return nil, err
	}
	st.onClose(func(context.Context) {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	})
	return pub, nil
}

// buildEngine layers artifact persistence over colly, promoting to chromedp
// when headless rendering is enabled.
func buildEngine(cfg config.Config, blobs jobs.BlobStore, st *stack, logger *zap.Logger) jobs.Scraper {
	probe := collyscraper.New(collyscraper.Config{
		UserAgent:     cfg.Scrape.UserAgent,
		RespectRobots: cfg.Scrape.RespectRobots,
	})
	var browser jobs.Scraper
	if cfg.Scrape.Headless {
		chrome, err := headless.New(headless.Config{
			MaxParallel: cfg.Scrape.HeadlessParallel,
			UserAgent:   cfg.Scrape.UserAgent,
		})
		if err != nil {
			logger.Warn("headless scraper init failed", zap.Error(err))
		} else {
			st.onClose(func(context.Context) { chrome.Close() })
			browser = chrome
		}
	}
	hybrid := scraper.NewHybrid(probe, browser, scraper.NewDetector(cfg.Scrape.PromotionThreshold), logger)
	return scraper.NewArtifacts(hybrid, blobs, cfg.Storage.Prefix)
}
