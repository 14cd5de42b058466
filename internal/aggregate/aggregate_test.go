package aggregate

import (
	"testing"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/extract"
	"authwatch/internal/model"
)

var base = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func failed(addr string, offset time.Duration) extract.Extraction {
	return extract.Extraction{
		Timestamp: base.Add(offset), HasTimestamp: true,
		Address: addr, HasAddress: addr != "",
		Outcome: model.OutcomeFailed,
	}
}

func TestSnapshotSortsSeriesStably(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(failed("10.0.0.1", 3*time.Minute))
	b.Add(failed("10.0.0.1", 1*time.Minute))
	b.Add(failed("10.0.0.1", 1*time.Minute))
	b.Add(failed("10.0.0.1", 0))

	series := b.Snapshot().Series("10.0.0.1")
	want := []time.Duration{0, time.Minute, time.Minute, 3 * time.Minute}
	if len(series) != len(want) {
		t.Fatalf("series length: %d", len(series))
	}
	for i, off := range want {
		if !series[i].Equal(base.Add(off)) {
			t.Fatalf("series[%d] = %v, want %v", i, series[i], base.Add(off))
		}
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(failed("10.0.0.1", 0))
	snap := b.Snapshot()
	b.Add(failed("10.0.0.1", time.Minute))
	b.Add(failed("10.0.0.2", time.Minute))
	if len(snap.Series("10.0.0.1")) != 1 || snap.Len() != 1 {
		t.Fatalf("snapshot changed after Add")
	}
}

func TestAddressOrderIsFirstSeen(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(failed("b", 0))
	b.Add(failed("a", 0))
	b.Add(failed("b", time.Second))
	b.Add(extract.Extraction{Address: "c", HasAddress: true, Outcome: model.OutcomeAccepted})
	got := b.Snapshot().Addresses()
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("addresses = %v, want %v", got, want)
		}
	}
}

func TestMissingAddressDiscard(t *testing.T) {
	b := NewBuilder(Policy{MissingAddress: config.MissingAddressDiscard})
	if b.Add(failed("", 0)) {
		t.Fatalf("line without address must be discarded")
	}
	snap := b.Snapshot()
	if snap.Len() != 0 {
		t.Fatalf("expected no addresses, got %v", snap.Addresses())
	}
	if snap.Stats().MissingAddress != 1 {
		t.Fatalf("stats: %+v", snap.Stats())
	}
}

func TestMissingAddressUnknownBucket(t *testing.T) {
	b := NewBuilder(Policy{MissingAddress: config.MissingAddressUnknown})
	b.Add(failed("", 0))
	b.Add(failed("", time.Minute))
	snap := b.Snapshot()
	if len(snap.Series(UnknownAddress)) != 2 {
		t.Fatalf("unknown bucket series: %v", snap.Series(UnknownAddress))
	}
}

func TestMissingTimestampCountsButSkipsSeries(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(extract.Extraction{Address: "10.0.0.1", HasAddress: true, Outcome: model.OutcomeFailed})
	snap := b.Snapshot()
	c, ok := snap.Count("10.0.0.1")
	if !ok || c.Failed != 1 {
		t.Fatalf("count: %+v", c)
	}
	if len(snap.Series("10.0.0.1")) != 0 {
		t.Fatalf("series must only hold valid timestamps")
	}
	if snap.Stats().MissingTimestamp != 1 {
		t.Fatalf("stats: %+v", snap.Stats())
	}
}

func TestIgnoreAddresses(t *testing.T) {
	b := NewBuilder(Policy{IgnoreAddresses: []string{" 10.0.0.9 "}})
	b.Add(failed("10.0.0.9", 0))
	b.Add(failed("10.0.0.1", 0))
	snap := b.Snapshot()
	if _, ok := snap.Count("10.0.0.9"); ok {
		t.Fatalf("ignored address was grouped")
	}
	if snap.Stats().Ignored != 1 {
		t.Fatalf("stats: %+v", snap.Stats())
	}
}

func TestTopFailed(t *testing.T) {
	b := NewBuilder(Policy{})
	for i := 0; i < 3; i++ {
		b.Add(failed("a", time.Duration(i)*time.Second))
	}
	for i := 0; i < 5; i++ {
		b.Add(failed("b", time.Duration(i)*time.Second))
	}
	for i := 0; i < 3; i++ {
		b.Add(failed("c", time.Duration(i)*time.Second))
	}
	b.Add(extract.Extraction{Address: "d", HasAddress: true, Outcome: model.OutcomeAccepted})

	top := b.Snapshot().TopFailed(2)
	if len(top) != 2 || top[0].Address != "b" || top[1].Address != "a" {
		t.Fatalf("top failed: %+v", top)
	}
	if all := b.Snapshot().TopFailed(0); len(all) != 3 {
		t.Fatalf("addresses without failures must be left out: %+v", all)
	}
}

func TestReset(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(failed("a", 0))
	b.Reset()
	if b.Snapshot().Len() != 0 || b.Stats().Lines != 0 {
		t.Fatalf("reset left state behind")
	}
}

func TestAcceptedEventStaysOutOfSeries(t *testing.T) {
	b := NewBuilder(Policy{})
	b.Add(extract.Extraction{
		Timestamp: base, HasTimestamp: true,
		Address: "10.0.0.1", HasAddress: true,
		Outcome: model.OutcomeAccepted,
	})
	snap := b.Snapshot()
	if c, _ := snap.Count("10.0.0.1"); c.Accepted != 1 || c.Failed != 0 {
		t.Fatalf("count: %+v", c)
	}
	if len(snap.Series("10.0.0.1")) != 0 || !b.Newest().IsZero() {
		t.Fatalf("accepted login reached the failure series")
	}
}

func TestPruneDropsOldFailuresKeepsTotals(t *testing.T) {
	b := NewBuilder(Policy{})
	for i := 0; i < 10; i++ {
		b.Add(failed("10.0.0.1", time.Duration(i)*time.Hour))
	}
	b.Add(failed("10.0.0.2", 30*time.Minute))
	if !b.Newest().Equal(base.Add(9 * time.Hour)) {
		t.Fatalf("newest: %v", b.Newest())
	}

	removed := b.Prune(base.Add(7 * time.Hour))
	if removed != 8 {
		t.Fatalf("removed %d, want 8", removed)
	}
	if b.SeriesLen() != 3 {
		t.Fatalf("series len %d, want 3", b.SeriesLen())
	}
	snap := b.Snapshot()
	if got := snap.Series("10.0.0.1"); len(got) != 3 || !got[0].Equal(base.Add(7*time.Hour)) {
		t.Fatalf("series after prune: %v", got)
	}
	if c, _ := snap.Count("10.0.0.1"); c.Failed != 10 {
		t.Fatalf("totals must survive pruning: %+v", c)
	}
	if len(snap.Series("10.0.0.2")) != 0 {
		t.Fatalf("old address series not pruned")
	}
}
