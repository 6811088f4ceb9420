package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	"github.com/TimeWtr/probe_scheduler/api"
	"github.com/TimeWtr/probe_scheduler/config"
	"github.com/TimeWtr/probe_scheduler/repository"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the job tracker and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	zl, err := newZap(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := probe.NewZapLogger(zl)

	repo, closeRepo, err := repository.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err1 := closeRepo(); err1 != nil {
			logger.Error("failed to close storage", probe.Error(err1))
		}
	}()

	registry := probe.NewJobRegistry(probe.WithLockTimeout(cfg.Scheduler.LockTimeout.Std()))
	jobs, err := repo.LoadJobs(ctx)
	if err != nil {
		logger.Warn("some stored jobs could not be decoded", probe.Error(err))
	}
	if err = registry.Load(ctx, jobs); err != nil {
		logger.Warn("some stored jobs were not loaded", probe.Error(err))
	}
	logger.Info("registry loaded", probe.Int("jobs", len(jobs)))

	pre, err := probe.NewPreprocessor(cfg.PolicyKind())
	if err != nil {
		return err
	}
	algorithm := probe.NewSchedulingAlgorithm(pre,
		probe.WithDurations(cfg.ExecutionTable()),
		probe.WithAlgorithmLogger(logger))

	var client probe.DeviceClient = probe.NewLogDeviceClient(logger)
	if cfg.Dispatch.Endpoint != "" {
		client = api.NewHTTPDeviceClient(cfg.Dispatch.Endpoint, &http.Client{
			Timeout: cfg.Dispatch.CallTimeout.Std(),
		})
	}
	dispatcher := probe.NewDispatcher(client, logger,
		probe.WithDispatchLimiter(cfg.Dispatch.Limiter),
		probe.WithRetry(cfg.Dispatch.RetryInterval.Std(), cfg.Dispatch.RetryMax),
		probe.WithCallTimeout(cfg.Dispatch.CallTimeout.Std()))

	core := probe.NewSchedulerCore(registry, algorithm, probe.StaticDevices(cfg.Devices), logger,
		probe.WithPassSpec(cfg.Scheduler.PassSpec),
		probe.WithDispatcher(dispatcher),
		probe.WithPersister(repo),
		probe.WithSchedulerPersistTimeout(cfg.Scheduler.PersistTimeout.Std()))

	tracker := probe.NewJobTracker(registry, repo, logger,
		probe.WithTrackerSpec(cfg.Tracker.Spec),
		probe.WithInitialDelay(cfg.Tracker.InitialDelay.Std()),
		probe.WithPersistTimeout(cfg.Scheduler.PersistTimeout.Std()))

	srv := api.New(core, logger,
		api.WithRateLimit(cfg.Server.RatePerSec, cfg.Server.Burst),
		api.WithJobStore(repo))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err1 := core.Scheduler(gctx)
		if errors.Is(err1, context.Canceled) {
			return nil
		}
		return err1
	})
	g.Go(func() error {
		if err1 := tracker.Start(gctx); err1 != nil {
			return err1
		}
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return tracker.Stop(sctx)
	})
	g.Go(func() error {
		logger.Info("server starting", probe.String("addr", cfg.Server.Addr))
		if err1 := httpServer.ListenAndServe(); err1 != nil && !errors.Is(err1, http.ErrServerClosed) {
			return err1
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("probe scheduler stopped")
	return err
}
