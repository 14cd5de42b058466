package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/nxadm/tail"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.RawLine, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current, out, logger)
	}
}

func tailConfig(cfg config.FileTailConfig) tail.Config {
	tc := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      cfg.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if cfg.StartAtEnd {
		tc.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	return tc
}

func tailFile(ctx context.Context, path string, cfg config.FileTailConfig, out chan<- model.RawLine, logger *slog.Logger) {
	t, err := tail.TailFile(path, tailConfig(cfg))
	if err != nil {
		if logger != nil {
			logger.Error("tail open failed", "path", path, "err", err)
		}
		return
	}
	defer t.Cleanup()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	source := "file:" + path
	for line := range t.Lines {
		if line == nil {
			continue
		}
		if line.Err != nil {
			if logger != nil {
				logger.Warn("tail read error", "path", path, "err", line.Err)
			}
			continue
		}
		text := strings.TrimRight(line.Text, "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		SendNonBlocking(ctx, out, model.RawLine{Text: text, Source: source}, logger)
	}
}
