// Package aggregate groups extracted login lines by source address.
//
// A Builder accumulates lines; Snapshot freezes them into an Aggregate whose
// per-address failure series are stably sorted and safe to hand to the
// detector from several goroutines.
package aggregate

import (
	"slices"
	"strings"
	"sync"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/extract"
	"authwatch/internal/model"
)

// UnknownAddress buckets lines without an address under the "unknown" policy.
const UnknownAddress = "unknown"

type Stats struct {
	Lines            int `json:"lines"`
	Failed           int `json:"failed"`
	Accepted         int `json:"accepted"`
	Other            int `json:"other"`
	MissingAddress   int `json:"missing_address"`
	MissingTimestamp int `json:"missing_timestamp"`
	Ignored          int `json:"ignored"`
}

type Policy struct {
	MissingAddress  string
	IgnoreAddresses []string
}

func PolicyFromConfig(cfg config.DetectionConfig) Policy {
	return Policy{MissingAddress: cfg.MissingAddress, IgnoreAddresses: cfg.IgnoreAddresses}
}

type entry struct {
	failed   int
	accepted int
	series   []time.Time
}

type Builder struct {
	mu      sync.Mutex
	bucket  bool
	ignore  map[string]struct{}
	order   []string
	entries map[string]*entry
	stats   Stats
	newest  time.Time
}

func NewBuilder(p Policy) *Builder {
	b := &Builder{entries: make(map[string]*entry)}
	b.SetPolicy(p)
	return b
}

// SetPolicy takes effect for lines added afterwards.
func (b *Builder) SetPolicy(p Policy) {
	ignore := make(map[string]struct{}, len(p.IgnoreAddresses))
	for _, addr := range p.IgnoreAddresses {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			ignore[addr] = struct{}{}
		}
	}
	b.mu.Lock()
	b.bucket = strings.EqualFold(p.MissingAddress, config.MissingAddressUnknown)
	b.ignore = ignore
	b.mu.Unlock()
}

// Add records one extracted line and reports whether it reached an address bucket.
// Only lines that resolve to a LoginEvent feed the failure series; a line
// without a timestamp still counts toward its address totals.
func (b *Builder) Add(x extract.Extraction) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Lines++
	switch x.Outcome {
	case model.OutcomeFailed:
		b.stats.Failed++
	case model.OutcomeAccepted:
		b.stats.Accepted++
	default:
		b.stats.Other++
	}
	if !x.HasTimestamp {
		b.stats.MissingTimestamp++
	}

	if !x.HasAddress {
		b.stats.MissingAddress++
		if !b.bucket {
			return false
		}
		x.Address, x.HasAddress = UnknownAddress, true
	}
	if _, ok := b.ignore[x.Address]; ok {
		b.stats.Ignored++
		return false
	}
	if x.Outcome == model.OutcomeOther {
		return false
	}

	if ev, ok := x.Event(); ok {
		b.addEvent(ev)
		return true
	}
	b.entry(x.Address).count(x.Outcome)
	return true
}

func (b *Builder) addEvent(ev model.LoginEvent) {
	e := b.entry(ev.Address)
	e.count(ev.Outcome)
	if ev.Outcome != model.OutcomeFailed {
		return
	}
	e.series = append(e.series, ev.Timestamp)
	if ev.Timestamp.After(b.newest) {
		b.newest = ev.Timestamp
	}
}

func (b *Builder) entry(addr string) *entry {
	e, ok := b.entries[addr]
	if !ok {
		e = &entry{}
		b.entries[addr] = e
		b.order = append(b.order, addr)
	}
	return e
}

func (e *entry) count(o model.Outcome) {
	switch o {
	case model.OutcomeFailed:
		e.failed++
	case model.OutcomeAccepted:
		e.accepted++
	}
}

// Newest returns the latest failure timestamp added so far.
func (b *Builder) Newest() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newest
}

// Prune drops failure timestamps before cutoff and returns how many were
// removed. Address totals are kept.
func (b *Builder) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for _, e := range b.entries {
		before := len(e.series)
		e.series = slices.DeleteFunc(e.series, func(ts time.Time) bool { return ts.Before(cutoff) })
		if n := before - len(e.series); n > 0 {
			removed += n
			if cap(e.series) > 2*len(e.series) {
				e.series = slices.Clone(e.series)
			}
		}
	}
	return removed
}

// SeriesLen returns the number of failure timestamps currently held.
func (b *Builder) SeriesLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		n += len(e.series)
	}
	return n
}

func (b *Builder) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.entries = make(map[string]*entry)
	b.stats = Stats{}
	b.newest = time.Time{}
}

// Snapshot copies the current state. Later calls to Add do not affect it.
func (b *Builder) Snapshot() *Aggregate {
	b.mu.Lock()
	defer b.mu.Unlock()
	agg := &Aggregate{
		order:  slices.Clone(b.order),
		counts: make(map[string]model.AddressCount, len(b.entries)),
		series: make(map[string][]time.Time, len(b.entries)),
		stats:  b.stats,
	}
	for addr, e := range b.entries {
		agg.counts[addr] = model.AddressCount{Address: addr, Failed: e.failed, Accepted: e.accepted}
		series := slices.Clone(e.series)
		slices.SortStableFunc(series, func(a, b time.Time) int { return a.Compare(b) })
		agg.series[addr] = series
	}
	return agg
}

// Aggregate is an immutable view of grouped login lines.
type Aggregate struct {
	order  []string
	counts map[string]model.AddressCount
	series map[string][]time.Time
	stats  Stats
}

// Addresses returns addresses in first-seen order.
func (a *Aggregate) Addresses() []string {
	return slices.Clone(a.order)
}

// Series returns the sorted failure timestamps for addr. Callers must not modify it.
func (a *Aggregate) Series(addr string) []time.Time {
	return a.series[addr]
}

func (a *Aggregate) Count(addr string) (model.AddressCount, bool) {
	c, ok := a.counts[addr]
	return c, ok
}

// Counts returns per-address totals in first-seen order.
func (a *Aggregate) Counts() []model.AddressCount {
	out := make([]model.AddressCount, 0, len(a.order))
	for _, addr := range a.order {
		out = append(out, a.counts[addr])
	}
	return out
}

// TopFailed returns up to n addresses with the most failures, ties broken by first-seen order.
func (a *Aggregate) TopFailed(n int) []model.AddressCount {
	out := make([]model.AddressCount, 0, len(a.order))
	for _, c := range a.Counts() {
		if c.Failed > 0 {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(x, y model.AddressCount) int { return y.Failed - x.Failed })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (a *Aggregate) Len() int {
	return len(a.order)
}

func (a *Aggregate) Stats() Stats {
	return a.stats
}
