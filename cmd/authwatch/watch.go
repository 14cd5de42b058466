package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"authwatch/internal/api"
	"authwatch/internal/config"
	"authwatch/internal/engine"
	"authwatch/internal/incidents"
	"authwatch/internal/ingest"
	"authwatch/internal/logging"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
	"authwatch/internal/report"
	"authwatch/internal/storage"
)

func runWatch(args []string, stderr io.Writer) int {
	var configPath string
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "Path to configuration file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var manager *config.Manager
	if configPath == "" {
		manager = config.NewStaticManager(config.DefaultConfig())
	} else {
		m, err := config.NewManager(config.ResolvePath(configPath))
		if err != nil {
			fmt.Fprintf(stderr, "config: %v\n", err)
			return 2
		}
		manager = m
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting authwatch", slog.String("version", version), slog.String("config", manager.Path()))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		return 1
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			logger.Error("failed to init storage", slog.Any("error", err))
			return 1
		}
	}

	incidentStore := incidents.NewStore(cfg.Incidents.StoreLimit)
	eng := engine.NewEngine(cfg, logger, incidentStore, store)

	lines := make(chan model.RawLine, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, lines)
	ingest.StartFileTail(ctx, manager, lines, logger)
	ingest.StartSyslog(ctx, manager, lines, logger)
	ingest.StartREST(ctx, manager, lines, logger)
	ingest.StartKafka(ctx, manager, lines, logger)
	api.Start(ctx, manager, incidentStore, eng, logger, version)

	stopWatch := make(chan struct{})
	go manager.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", slog.String("path", manager.Path()))
	}, func(err error) {
		logger.Warn("config reload failed", slog.Any("error", err))
	}, stopWatch)

	<-ctx.Done()
	close(stopWatch)
	logger.Info("shutdown signal received")

	// final report of everything seen while running
	finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := eng.Result(finalCtx)
	if err != nil {
		logger.Error("final evaluation failed", slog.Any("error", err))
		return 1
	}
	reportCfg := manager.Get().Report
	reportCfg.Console = false
	if _, err := report.NewGenerator(reportCfg, os.Stdout, logger).Generate(finalCtx, res); err != nil {
		logger.Error("report failed", slog.Any("error", err))
		return 1
	}
	logger.Info("authwatch stopped", slog.Int("incidents", len(res.Incidents)))
	return 0
}
