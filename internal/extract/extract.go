// Package extract turns raw authentication log lines into login events.
//
// Lines follow the syslog convention used by sshd and PAM: the first three
// tokens are the timestamp and an optional "from <token>" names the source
// address. Either part may be missing; Extraction records which ones were found.
package extract

import (
	"errors"
	"strings"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

var ErrEmptyLine = errors.New("empty line")

// Extraction is the per-line result. Timestamp and Address are only
// meaningful when the matching Has flag is set.
type Extraction struct {
	Timestamp    time.Time
	HasTimestamp bool
	Address      string
	HasAddress   bool
	Outcome      model.Outcome
	Raw          string
}

// Event returns the login event when both the timestamp and the address were found.
func (x Extraction) Event() (model.LoginEvent, bool) {
	if !x.HasTimestamp || !x.HasAddress {
		return model.LoginEvent{}, false
	}
	return model.LoginEvent{
		Timestamp: x.Timestamp,
		Address:   x.Address,
		Outcome:   x.Outcome,
		Raw:       x.Raw,
	}, true
}

type Parser struct {
	loc  *time.Location
	year int
	now  func() time.Time
}

func NewParser(cfg config.ParserConfig) *Parser {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	return &Parser{loc: loc, year: cfg.Year, now: time.Now}
}

// ParseLine never fails on partial lines; the only error is a blank line.
func (p *Parser) ParseLine(line string) (Extraction, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Extraction{}, ErrEmptyLine
	}
	x := Extraction{Raw: line, Outcome: ParseOutcome(tokens, line)}
	if ts, ok := p.parseTimestamp(tokens); ok {
		x.Timestamp = ts
		x.HasTimestamp = true
	}
	if addr, ok := ParseAddress(tokens); ok {
		x.Address = addr
		x.HasAddress = true
	}
	return x, nil
}

// ParseAddress returns the token following the first standalone "from".
func ParseAddress(tokens []string) (string, bool) {
	for i, tok := range tokens {
		if tok != "from" {
			continue
		}
		if i+1 >= len(tokens) {
			return "", false
		}
		addr := strings.Trim(tokens[i+1], addressCutset)
		if addr == "" {
			return "", false
		}
		return addr, true
	}
	return "", false
}

const addressCutset = " \t[](),;\"'"

func ParseOutcome(tokens []string, line string) model.Outcome {
	failed, accepted := false, false
	for _, tok := range tokens {
		switch tok {
		case "Failed":
			failed = true
		case "Accepted":
			accepted = true
		}
	}
	if !failed && strings.Contains(line, "authentication failure") {
		failed = true
	}
	switch {
	case failed:
		return model.OutcomeFailed
	case accepted:
		return model.OutcomeAccepted
	}
	return model.OutcomeOther
}
