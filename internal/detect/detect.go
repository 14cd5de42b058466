// Package detect finds brute-force incidents in per-address failure series.
//
// A candidate run starts at an anchor timestamp and takes every following
// timestamp that lies within Window of the anchor (inclusive). A run with at
// least MinAttempts entries becomes an incident and scanning resumes after its
// last entry; a shorter run moves the anchor forward by one. Runs never share
// a timestamp, and the window is always measured from the anchor, never from
// the previous entry.
package detect

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"authwatch/internal/aggregate"
	"authwatch/internal/model"
)

const (
	DefaultWindow      = 10 * time.Minute
	DefaultMinAttempts = 5
)

type Params struct {
	Window      time.Duration `json:"window"`
	MinAttempts int           `json:"min_attempts"`
}

func DefaultParams() Params {
	return Params{Window: DefaultWindow, MinAttempts: DefaultMinAttempts}
}

// normalized fills unset fields with defaults. A single attempt is never an incident.
func (p Params) normalized() Params {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MinAttempts <= 0 {
		p.MinAttempts = DefaultMinAttempts
	}
	if p.MinAttempts < 2 {
		p.MinAttempts = 2
	}
	return p
}

// Detect returns the incidents for one address in chronological order.
// Unsorted input is stable-sorted on a copy; series is never modified.
// An empty address yields no incidents.
func Detect(address string, series []time.Time, p Params) []model.Incident {
	p = p.normalized()
	if address == "" || len(series) < p.MinAttempts {
		return nil
	}
	ts := series
	if !slices.IsSortedFunc(ts, compareTime) {
		ts = slices.Clone(series)
		slices.SortStableFunc(ts, compareTime)
	}

	var out []model.Incident
	n := len(ts)
	for i := 0; i+p.MinAttempts <= n; {
		end := runEnd(ts, i, p.Window)
		if end-i < p.MinAttempts {
			i++
			continue
		}
		out = append(out, model.Incident{
			Address:     address,
			Count:       end - i,
			WindowStart: ts[i],
			WindowEnd:   ts[end-1],
			FirstIndex:  i,
			LastIndex:   end - 1,
		})
		i = end
	}
	return out
}

// runEnd returns the exclusive end of the maximal run anchored at i.
func runEnd(ts []time.Time, i int, window time.Duration) int {
	j := i + 1
	for j < len(ts) && ts[j].Sub(ts[i]) <= window {
		j++
	}
	return j
}

func compareTime(a, b time.Time) int {
	return a.Compare(b)
}

// DetectAll runs Detect for every address of agg, at most workers at a time.
// Incidents are returned grouped by address in the aggregate's address order.
func DetectAll(ctx context.Context, agg *aggregate.Aggregate, p Params, workers int) ([]model.Incident, error) {
	if agg == nil {
		return nil, nil
	}
	addrs := agg.Addresses()
	results := make([][]model.Incident, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, addr := range addrs {
		if ctx.Err() != nil {
			break
		}
		i, addr := i, addr
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = Detect(addr, agg.Series(addr), p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.Incident
	for _, list := range results {
		out = append(out, list...)
	}
	return out, nil
}
