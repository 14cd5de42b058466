package model

import "time"

type Outcome string

const (
	OutcomeFailed   Outcome = "failed"
	OutcomeAccepted Outcome = "accepted"
	OutcomeOther    Outcome = "other"
)

// RawLine is a single unparsed log line together with the ingest source it came from.
type RawLine struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// LoginEvent is a fully resolved login line. Both Timestamp and Address are
// always present; partial lines never become a LoginEvent.
type LoginEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Outcome   Outcome   `json:"outcome"`
	Source    string    `json:"source,omitempty"`
	Raw       string    `json:"raw,omitempty"`
}

// Incident is a cluster of failed attempts from one address inside a single window.
// FirstIndex and LastIndex locate the run inside the address's sorted series.
type Incident struct {
	Address     string    `json:"address"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	FirstIndex  int       `json:"first_index"`
	LastIndex   int       `json:"last_index"`
}

func (i Incident) Duration() time.Duration {
	return i.WindowEnd.Sub(i.WindowStart)
}

// Key identifies an incident by its address and anchor. A run that grows while
// more events arrive keeps the same key.
func (i Incident) Key() string {
	return i.Address + "|" + i.WindowStart.UTC().Format(time.RFC3339Nano)
}

type AddressCount struct {
	Address  string `json:"address"`
	Failed   int    `json:"failed"`
	Accepted int    `json:"accepted"`
}
