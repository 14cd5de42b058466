// Package report renders detection results for people and for other tools:
// a console summary, a bar chart, a Markdown document, a compressed JSONL
// export and an optional S3 upload of the written files.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"authwatch/internal/config"
	"authwatch/internal/engine"
)

type Generator struct {
	cfg      config.ReportConfig
	stdout   io.Writer
	logger   *slog.Logger
	uploader *Uploader
}

func NewGenerator(cfg config.ReportConfig, stdout io.Writer, logger *slog.Logger) *Generator {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Generator{cfg: cfg, stdout: stdout, logger: logger}
}

// WithUploader overrides the uploader built from the S3 config.
func (g *Generator) WithUploader(u *Uploader) *Generator {
	g.uploader = u
	return g
}

func (g *Generator) artifactPath(runID, name string) string {
	return filepath.Join(g.cfg.Dir, fmt.Sprintf("authwatch-%s-%s", shortID(runID), name))
}

// Generate writes every enabled output and returns the paths of the files it
// created. A failed upload is logged and does not fail the run.
func (g *Generator) Generate(ctx context.Context, res engine.Result) ([]string, error) {
	if g.cfg.Console {
		if err := WriteConsole(g.stdout, res, g.cfg.TopN); err != nil {
			return nil, fmt.Errorf("console report: %w", err)
		}
	}

	needsDir := g.cfg.Chart || g.cfg.Document || g.cfg.Export
	if !needsDir {
		return nil, nil
	}
	if err := os.MkdirAll(g.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	var files []string
	chartFile := ""
	if g.cfg.Chart && res.Aggregate != nil {
		p := g.artifactPath(res.RunID, "chart.svg")
		err := writeFile(p, func(w io.Writer) error {
			return WriteSVG(w, "Failed attempts by address", res.Aggregate.TopFailed(g.cfg.TopN))
		})
		if err != nil {
			return files, fmt.Errorf("chart: %w", err)
		}
		files = append(files, p)
		chartFile = filepath.Base(p)
	}
	if g.cfg.Document {
		p := g.artifactPath(res.RunID, "report.md")
		if err := writeFile(p, func(w io.Writer) error { return WriteMarkdown(w, res, g.cfg.TopN, chartFile) }); err != nil {
			return files, fmt.Errorf("document: %w", err)
		}
		files = append(files, p)
	}
	if g.cfg.Export {
		p := g.artifactPath(res.RunID, "incidents.jsonl.gz")
		if err := exportFile(p, res.RunID, res.Incidents); err != nil {
			return files, fmt.Errorf("export: %w", err)
		}
		files = append(files, p)
	}
	if g.logger != nil {
		g.logger.Info("report written", "dir", g.cfg.Dir, "files", len(files))
	}

	if g.cfg.S3.Enabled {
		g.upload(ctx, res.RunID, files)
	}
	return files, nil
}

func (g *Generator) upload(ctx context.Context, runID string, files []string) {
	if g.uploader == nil {
		u, err := NewUploader(ctx, g.cfg.S3)
		if err != nil {
			if g.logger != nil {
				g.logger.Error("s3 uploader unavailable", "err", err)
			}
			return
		}
		g.uploader = u
	}
	for _, f := range files {
		key := g.uploader.Key(runID, f)
		if err := g.uploader.UploadFile(ctx, key, f); err != nil {
			if g.logger != nil {
				g.logger.Error("s3 upload failed", "file", f, "err", err)
			}
			continue
		}
		if g.logger != nil {
			g.logger.Info("s3 upload complete", "bucket", g.cfg.S3.Bucket, "key", key)
		}
	}
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := render(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	if runID == "" {
		return "run"
	}
	return runID
}
