package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/config"
	"github.com/BrandonDHaskell/Portunus/lane/internal/grpcapi"
	"github.com/BrandonDHaskell/Portunus/lane/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/backend"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/controller"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/service"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store/file"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/supervisor"
	"github.com/BrandonDHaskell/Portunus/lane/internal/logging"
)

func main() {
	if err := run(); err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Error().Err(err).Msg("lane controller failed to start")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	root, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stdout)
	if err != nil {
		return err
	}
	defer root.Close()
	logger := root.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Queue (file or sqlite)
	q, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	client := backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		HealthPath:     cfg.Backend.HealthPath,
		Timeout:        cfg.Backend.Timeout,
		HealthTimeout:  cfg.Backend.HealthTimeout,
		MaxAttempts:    cfg.Backend.MaxAttempts,
		ConnectBackoff: cfg.Backend.ConnectBackoff,
		ErrorBackoff:   cfg.Backend.ErrorBackoff,
		QueueOnTimeout: cfg.Backend.QueueOnTimeout,
	}, q, logger)

	// Drivers
	drv, err := openDrivers(cfg, logger)
	if err != nil {
		return err
	}

	notifier := openNotifier(ctx, cfg, logger)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn().Err(err).Msg("notifier close")
		}
	}()

	lane, err := controller.New(controller.Config{
		LaneID:      cfg.Lane.ID,
		Position:    cfg.Lane.Position(),
		Dwell:       cfg.Gate.Dwell,
		CardTimeout: cfg.Gate.CardTimeout,
	}, controller.Dependencies{
		Reader:     drv.reader,
		Recognizer: drv.recognizer,
		Actuator:   drv.actuator,
		Backend:    client,
		Archive:    openArchive(cfg, logger),
		Notifier:   notifier,
	}, logger)
	if err != nil {
		drv.close(logger)
		return err
	}

	// Background services
	health := service.NewHealthMonitor(client, cfg.HealthInterval, logger)

	var grpcSrv *grpcapi.Server
	if cfg.Status.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(cfg.Status.GRPCAddr, logger)
		health.OnChange(grpcSrv.SetBackendReachable)
		go func() {
			if err := grpcSrv.Start(); err != nil {
				logger.Error().Err(err).Msg("grpc server error")
			}
		}()
	}
	health.Start(ctx)
	defer health.Stop()

	pruner := service.NewImagePruner(file.NewImageDir(cfg.Images.Dir), service.PrunerConfig{
		RetentionDays: cfg.Images.RetentionDays,
		Interval:      cfg.Images.PruneInterval,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	var httpSrv *httpapi.Server
	if cfg.Status.HTTPAddr != "" {
		httpSrv = httpapi.NewServer(httpapi.Dependencies{
			Logger:      logger,
			Addr:        cfg.Status.HTTPAddr,
			LaneID:      cfg.Lane.ID,
			CORSOrigins: cfg.Status.CORSOrigins,
			Lane:        lane,
			Queue:       q,
			Health:      health,
		})
		go func() {
			logger.Info().Str("addr", cfg.Status.HTTPAddr).Msg("status api listening")
			if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("status api error")
			}
		}()
	}

	logger.Info().
		Str("backend", cfg.Backend.BaseURL).
		Str("hardware", cfg.Hardware.Mode).
		Int("queued", q.Size()).
		Msg("lane controller started")

	sup := supervisor.New(supervisor.Config{
		CyclePause:    cfg.Gate.CyclePause,
		PanicPause:    cfg.Gate.PanicPause,
		DrainInterval: cfg.DrainInterval,
	}, lane, client, health, logger)

	runErr := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		_ = grpcSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil {
		// Release failures are logged, not fatal: the lane did stop.
		logger.Warn().Err(runErr).Msg("lane resources not fully released")
	}
	logger.Info().Int("queued", q.Size()).Msg("lane controller stopped")
	return nil
}
