package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"

	"authwatch/internal/config"
	"authwatch/internal/engine"
	"authwatch/internal/logging"
	"authwatch/internal/report"
	"authwatch/internal/storage"
)

type analyzeOptions struct {
	configPath  string
	window      time.Duration
	minAttempts int
	outDir      string
	files       []string
}

func parseAnalyzeFlags(args []string, stderr io.Writer) (analyzeOptions, error) {
	var opts analyzeOptions
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file (yaml or json)")
	fs.DurationVar(&opts.window, "window", 0, "Incident window, overrides detection.window")
	fs.IntVar(&opts.minAttempts, "min-attempts", 0, "Failed attempts that make an incident, overrides detection.min_attempts")
	fs.StringVar(&opts.outDir, "out", "", "Directory for report files, overrides report.dir")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.files = fs.Args()
	return opts, nil
}

func loadAnalyzeConfig(opts analyzeOptions) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.window != 0 {
		cfg.Detection.Window = opts.window
	}
	if opts.minAttempts != 0 {
		cfg.Detection.MinAttempts = opts.minAttempts
	}
	if opts.outDir != "" {
		cfg.Report.Dir = opts.outDir
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAnalyze(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseAnalyzeFlags(args, stderr)
	if err != nil {
		return 2
	}
	cfg, err := loadAnalyzeConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	// stdout carries the console report
	logger := logging.NewLoggerTo(stderr, cfg.LogLevel)

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

	eng := engine.NewEngine(cfg, logger, nil, store)
	if len(opts.files) == 0 {
		if _, err := eng.Read(ctx, stdin, "stdin"); err != nil {
			logger.Error("read failed", slog.String("source", "stdin"), slog.Any("error", err))
			return 1
		}
	}
	for _, path := range opts.files {
		if err := readFile(ctx, eng, path); err != nil {
			logger.Error("read failed", slog.String("source", path), slog.Any("error", err))
			return 1
		}
	}

	res, err := eng.Result(ctx)
	if err != nil {
		logger.Error("detection failed", slog.Any("error", err))
		return 1
	}
	if _, err := report.NewGenerator(cfg.Report, stdout, logger).Generate(ctx, res); err != nil {
		logger.Error("report failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// readFile feeds one log file to eng. Files ending in .gz are decompressed.
func readFile(ctx context.Context, eng *engine.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	_, err = eng.Read(ctx, r, path)
	return err
}
