package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"authwatch/internal/aggregate"
	"authwatch/internal/config"
	"authwatch/internal/detect"
	"authwatch/internal/extract"
	"authwatch/internal/incidents"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
	"authwatch/internal/storage"
)

const maxLineSize = 1024 * 1024

// Result is the outcome of one batch run.
type Result struct {
	RunID     string               `json:"run_id"`
	Started   time.Time            `json:"started"`
	Finished  time.Time            `json:"finished"`
	Params    detect.Params        `json:"params"`
	Aggregate *aggregate.Aggregate `json:"-"`
	Incidents []model.Incident     `json:"incidents"`
	Counts    []model.AddressCount `json:"counts"`
	Stats     aggregate.Stats      `json:"stats"`
	Skipped   int64                `json:"skipped"`
}

type Engine struct {
	logger    *slog.Logger
	incidents *incidents.Store
	store     storage.Store
	cfg       atomic.Value
	parser    atomic.Value
	builder   *aggregate.Builder
	deDupe    *DedupeCache
	evalMu    sync.Mutex
	skipped   atomic.Int64
	runID     string
	started   time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, incidentsStore *incidents.Store, store storage.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if incidentsStore == nil {
		incidentsStore = incidents.NewStore(cfg.Incidents.StoreLimit)
	}
	e := &Engine{
		logger:    logger,
		incidents: incidentsStore,
		store:     store,
		builder:   aggregate.NewBuilder(aggregate.PolicyFromConfig(cfg.Detection)),
		deDupe:    NewDedupeCache(),
		runID:     uuid.NewString(),
		started:   time.Now().UTC(),
	}
	e.cfg.Store(cfg)
	e.parser.Store(extract.NewParser(cfg.Ingest.Parser))
	return e
}

// UpdateConfig applies to lines processed afterwards. Lines already grouped
// keep the policy they were grouped under.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.cfg.Store(cfg)
	e.parser.Store(extract.NewParser(cfg.Ingest.Parser))
	e.builder.SetPolicy(aggregate.PolicyFromConfig(cfg.Detection))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) lineParser() *extract.Parser {
	return e.parser.Load().(*extract.Parser)
}

func (e *Engine) RunID() string {
	return e.runID
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) Params() detect.Params {
	cfg := e.config()
	return detect.Params{Window: cfg.Detection.Window, MinAttempts: cfg.Detection.MinAttempts}
}

// Snapshot returns the current grouping state.
func (e *Engine) Snapshot() *aggregate.Aggregate {
	return e.builder.Snapshot()
}

func (e *Engine) Incidents() *incidents.Store {
	return e.incidents
}

// ProcessLine extracts and groups one line. It reports false for lines that
// carried nothing to extract.
func (e *Engine) ProcessLine(line model.RawLine) bool {
	metrics.ObserveLine(line.Source)
	x, err := e.lineParser().ParseLine(line.Text)
	if err != nil {
		metrics.ObserveExtractionFailure()
		e.skipped.Add(1)
		return false
	}
	metrics.ObserveEvent(string(x.Outcome))
	e.builder.Add(x)
	return true
}

func (e *Engine) Start(ctx context.Context, in <-chan model.RawLine) {
	go func() {
		interval := e.config().Detection.EvaluateInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case line, ok := <-in:
				if !ok {
					return
				}
				e.ProcessLine(line)
			case <-ticker.C:
				if _, err := e.Evaluate(ctx); err != nil && ctx.Err() == nil && e.logger != nil {
					e.logger.Error("evaluation failed", "err", err)
				}
				if next := e.config().Detection.EvaluateInterval; next != interval && next > 0 {
					interval = next
					ticker.Reset(interval)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Evaluate runs detection over the current snapshot and returns incidents
// that were not reported by an earlier call. Runs that grew since they were
// reported are updated in the incident store and persisted again, but are
// not returned. Afterwards failures older than the retention horizon are
// dropped, together with the record of runs that ended before it.
func (e *Engine) Evaluate(ctx context.Context) ([]model.Incident, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	_, all, fresh, err := e.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	e.prune(all)
	return fresh, nil
}

// retentionCutoff returns the instant before which failures may be dropped.
// The cutoff never splits a run found by the last detection pass.
func (e *Engine) retentionCutoff(found []model.Incident) (time.Time, bool) {
	newest := e.builder.Newest()
	if newest.IsZero() {
		return time.Time{}, false
	}
	det := e.config().Detection
	retention := max(det.Retention, det.Window)
	if retention <= 0 {
		return time.Time{}, false
	}
	cutoff := newest.Add(-retention)
	for moved := true; moved; {
		moved = false
		for _, inc := range found {
			if inc.WindowStart.Before(cutoff) && !inc.WindowEnd.Before(cutoff) {
				cutoff = inc.WindowStart
				moved = true
			}
		}
	}
	return cutoff, true
}

func (e *Engine) prune(found []model.Incident) {
	cutoff, ok := e.retentionCutoff(found)
	if !ok {
		return
	}
	removed := e.builder.Prune(cutoff)
	forgotten := e.deDupe.PruneBefore(cutoff)
	if (removed > 0 || forgotten > 0) && e.logger != nil {
		e.logger.Debug("pruned failure history", "cutoff", cutoff, "timestamps", removed, "runs", forgotten)
	}
}

// evaluate must be called with evalMu held.
func (e *Engine) evaluate(ctx context.Context) (*aggregate.Aggregate, []model.Incident, []model.Incident, error) {
	cfg := e.config()
	began := time.Now()
	snap := e.builder.Snapshot()
	all, err := detect.DetectAll(ctx, snap, e.Params(), cfg.Detection.Workers)
	metrics.ObserveEvaluation(time.Since(began))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("detect: %w", err)
	}

	var fresh, changed []model.Incident
	for _, inc := range all {
		seen, grew := e.deDupe.Check(inc.Key(), inc.Count, inc.WindowEnd)
		switch {
		case !seen:
			fresh = append(fresh, inc)
			changed = append(changed, inc)
			e.incidents.Upsert(inc)
			if e.logger != nil {
				e.logger.Warn("brute-force incident",
					"address", inc.Address,
					"count", inc.Count,
					"window_start", inc.WindowStart,
					"window_end", inc.WindowEnd,
				)
			}
		case grew:
			changed = append(changed, inc)
			e.incidents.Upsert(inc)
			if e.logger != nil {
				e.logger.Info("incident grew", "address", inc.Address, "count", inc.Count, "window_start", inc.WindowStart)
			}
		}
	}
	metrics.ObserveIncidents(len(fresh))

	if e.store != nil && len(changed) > 0 {
		if err := e.store.SaveIncidents(ctx, e.runID, changed); err != nil && e.logger != nil {
			e.logger.Error("persist incidents failed", "err", err)
		}
	}
	return snap, all, fresh, nil
}

// Read feeds every line of r through ProcessLine. Lines may be up to 1 MiB.
func (e *Engine) Read(ctx context.Context, r io.Reader, source string) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		e.ProcessLine(model.RawLine{Text: scanner.Text(), Source: source})
		n++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return n, fmt.Errorf("read %s: line %d exceeds %d bytes: %w", source, n+1, maxLineSize, err)
		}
		return n, fmt.Errorf("read %s: %w", source, err)
	}
	return n, nil
}

// Analyze reads r to the end and evaluates once.
func (e *Engine) Analyze(ctx context.Context, r io.Reader, source string) (Result, error) {
	if _, err := e.Read(ctx, r, source); err != nil {
		return Result{}, err
	}
	return e.Result(ctx)
}

// Result evaluates the lines read so far and returns every incident found,
// including ones reported by earlier evaluations. After Evaluate has pruned,
// only runs inside the retention horizon are included.
func (e *Engine) Result(ctx context.Context) (Result, error) {
	e.evalMu.Lock()
	snap, all, _, err := e.evaluate(ctx)
	e.evalMu.Unlock()
	if err != nil {
		return Result{}, err
	}
	res := Result{
		RunID:     e.runID,
		Started:   e.started,
		Finished:  time.Now().UTC(),
		Params:    e.Params(),
		Aggregate: snap,
		Incidents: all,
		Counts:    snap.Counts(),
		Stats:     snap.Stats(),
		Skipped:   e.skipped.Load(),
	}
	if e.store != nil {
		if err := e.store.SaveCounts(ctx, e.runID, res.Counts); err != nil && e.logger != nil {
			e.logger.Error("persist address counts failed", "err", err)
		}
	}
	if e.logger != nil {
		e.logger.Info("analysis complete",
			"run_id", e.runID,
			"lines", res.Stats.Lines,
			"skipped", res.Skipped,
			"addresses", snap.Len(),
			"incidents", len(all),
		)
	}
	return res, nil
}

// ForgetReported clears the incident store and the record of reported runs.
// Grouped lines are kept, so the next evaluation reports their runs again.
func (e *Engine) ForgetReported() {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	e.deDupe.Reset()
	e.incidents.Clear()
}

// Reset drops grouped lines and the record of reported incidents. The
// incident store is cleared as well.
func (e *Engine) Reset() {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	e.builder.Reset()
	e.deDupe.Reset()
	e.skipped.Store(0)
	e.incidents.Clear()
}
