package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"authwatch/internal/config"
	"authwatch/internal/extract"
	"authwatch/internal/model"
)

func postLines(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/lines", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp map[string]int
	if rec.Code == http.StatusAccepted || rec.Code == http.StatusServiceUnavailable {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func TestRESTPlainTextBody(t *testing.T) {
	out := make(chan model.RawLine, 10)
	h := NewRESTServer(out, nil).Handler()
	body := "Mar 10 12:00:00 host sshd[1]: Failed password for root from 10.0.0.1 port 22\r\n\n" +
		"Mar 10 12:00:05 host sshd[1]: Accepted password for root from 10.0.0.2 port 22\n"
	rec, resp := postLines(t, h, body)
	if rec.Code != http.StatusAccepted || resp["accepted"] != 2 {
		t.Fatalf("status=%d resp=%v", rec.Code, resp)
	}
	first := <-out
	if first.Source != "rest" || strings.HasSuffix(first.Text, "\r") {
		t.Fatalf("unexpected line: %+v", first)
	}
}

func TestRESTJSONArrayBody(t *testing.T) {
	out := make(chan model.RawLine, 10)
	h := NewRESTServer(out, nil).Handler()
	rec, resp := postLines(t, h, `["line one", " ", "line two"]`)
	if rec.Code != http.StatusAccepted || resp["accepted"] != 2 {
		t.Fatalf("status=%d resp=%v", rec.Code, resp)
	}
}

func TestRESTRejectsBadRequests(t *testing.T) {
	h := NewRESTServer(make(chan model.RawLine, 1), nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/lines", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
	if rec, _ := postLines(t, h, "   "); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank body status = %d", rec.Code)
	}
	if rec, _ := postLines(t, h, `[1, 2]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-string array status = %d", rec.Code)
	}
}

func TestRESTFullQueueDropsLines(t *testing.T) {
	out := make(chan model.RawLine)
	h := NewRESTServer(out, nil).Handler()
	rec, resp := postLines(t, h, "a\nb\n")
	if rec.Code != http.StatusServiceUnavailable || resp["dropped"] != 2 {
		t.Fatalf("status=%d resp=%v", rec.Code, resp)
	}
}

func TestSendNonBlockingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan model.RawLine)
	if SendNonBlocking(ctx, out, model.RawLine{Text: "x"}, nil) {
		t.Fatalf("send on a cancelled context must fail")
	}
}

func TestStripPriority(t *testing.T) {
	cases := map[string]string{
		"<34>Mar 10 12:00:00 host sshd": "Mar 10 12:00:00 host sshd",
		"Mar 10 12:00:00 host sshd":     "Mar 10 12:00:00 host sshd",
		"<abc>Mar 10":                   "<abc>Mar 10",
		"<>x":                           "<>x",
		"<12345>x":                      "<12345>x",
		"<34>1 2024-03-10T12:00:00Z h":  "2024-03-10T12:00:00Z h",
		"<34>Mar 1 12:00:00 h":          "Mar 1 12:00:00 h",
	}
	for in, want := range cases {
		if got := StripPriority(in); got != want {
			t.Errorf("StripPriority(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitDatagram(t *testing.T) {
	got := SplitDatagram("<13>line one\r\n\n<13>line two\n")
	if len(got) != 2 || got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("split: %q", got)
	}
}

func TestRFC5424DatagramKeepsTimestamp(t *testing.T) {
	p := extract.NewParser(config.ParserConfig{Timezone: "UTC", Year: 2024})
	payload := "<34>1 2024-03-10T12:00:00Z host sshd 42 - - Failed password for root from 203.0.113.9 port 22\n" +
		"<34>1 2024-03-10T12:30:00Z host sshd 42 - - Failed password for root from 203.0.113.9 port 22\n"
	lines := SplitDatagram(payload)
	if len(lines) != 2 {
		t.Fatalf("lines: %q", lines)
	}
	want := []time.Time{
		time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 10, 12, 30, 0, 0, time.UTC),
	}
	for i, line := range lines {
		x, err := p.ParseLine(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if !x.HasTimestamp || !x.Timestamp.Equal(want[i]) {
			t.Fatalf("line %d timestamp = %v (has=%v), want %v", i, x.Timestamp, x.HasTimestamp, want[i])
		}
		if x.Address != "203.0.113.9" {
			t.Fatalf("address: %q", x.Address)
		}
	}
}

func TestTailConfigStartAtEnd(t *testing.T) {
	tc := tailConfig(config.FileTailConfig{StartAtEnd: true, Poll: true})
	if tc.Location == nil || tc.Location.Whence != io.SeekEnd {
		t.Fatalf("start_at_end must seek to the end: %+v", tc.Location)
	}
	if !tc.Follow || !tc.ReOpen || tc.MustExist {
		t.Fatalf("unexpected tail config: %+v", tc)
	}
	if tailConfig(config.FileTailConfig{}).Location != nil {
		t.Fatalf("default must read from the start")
	}
}
