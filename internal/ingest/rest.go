package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"authwatch/internal/config"
	"authwatch/internal/model"
)

const maxRESTBody = 2 << 20

type RESTServer struct {
	out    chan<- model.RawLine
	logger *slog.Logger
}

func NewRESTServer(out chan<- model.RawLine, logger *slog.Logger) *RESTServer {
	return &RESTServer{out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/lines", s.handleLines)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.RawLine, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: NewRESTServer(out, logger).Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

// handleLines accepts either a plain text body with one log line per row or a
// JSON array of strings.
func (s *RESTServer) handleLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxRESTBody)
	defer body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	trim := bytes.TrimSpace(buf.Bytes())
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var lines []string
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &lines); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		lines = strings.Split(string(trim), "\n")
	}

	accepted, dropped := 0, 0
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if SendNonBlocking(r.Context(), s.out, model.RawLine{Text: line, Source: "rest"}, s.logger) {
			accepted++
		} else {
			dropped++
		}
	}

	status := http.StatusAccepted
	if accepted == 0 && dropped > 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}
