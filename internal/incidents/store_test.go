package incidents

import (
	"testing"
	"time"

	"authwatch/internal/model"
)

var base = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func incident(addr string, start time.Duration, count int) model.Incident {
	return model.Incident{
		Address:     addr,
		Count:       count,
		WindowStart: base.Add(start),
		WindowEnd:   base.Add(start + time.Duration(count-1)*time.Minute),
		LastIndex:   count - 1,
	}
}

func TestUpsertReplacesGrownRun(t *testing.T) {
	s := NewStore(10)
	if !s.Upsert(incident("10.0.0.1", 0, 5)) {
		t.Fatalf("first upsert must report a new incident")
	}
	if s.Upsert(incident("10.0.0.1", 0, 7)) {
		t.Fatalf("same anchor must not be reported twice")
	}
	list := s.List(0)
	if len(list) != 1 || list[0].Count != 7 {
		t.Fatalf("expected grown record, got %+v", list)
	}
}

func TestEvictionKeepsIndexConsistent(t *testing.T) {
	s := NewStore(2)
	a := incident("a", 0, 5)
	b := incident("b", 0, 5)
	c := incident("c", 0, 5)
	s.Upsert(a)
	s.Upsert(b)
	s.Upsert(c)
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if _, ok := s.Get(a.Key()); ok {
		t.Fatalf("oldest incident must be evicted")
	}
	grown := incident("b", 0, 6)
	if s.Upsert(grown) {
		t.Fatalf("b is still stored")
	}
	got, ok := s.Get(b.Key())
	if !ok || got.Count != 6 {
		t.Fatalf("b lookup after eviction: %+v %v", got, ok)
	}
	if list := s.List(1); len(list) != 1 || list[0].Address != "c" {
		t.Fatalf("newest: %+v", list)
	}
}

func TestSinceAndClear(t *testing.T) {
	s := NewStore(10)
	s.Upsert(incident("a", 0, 5))
	s.Upsert(incident("b", time.Hour, 5))
	if got := s.Since(base.Add(30 * time.Minute)); len(got) != 1 || got[0].Address != "b" {
		t.Fatalf("since: %+v", got)
	}
	s.Clear()
	if s.Len() != 0 || len(s.List(0)) != 0 {
		t.Fatalf("clear left incidents behind")
	}
	if !s.Upsert(incident("a", 0, 5)) {
		t.Fatalf("cleared incident must be new again")
	}
}
