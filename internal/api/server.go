package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authwatch/internal/aggregate"
	"authwatch/internal/config"
	"authwatch/internal/incidents"
	"authwatch/internal/model"
)

type EngineControl interface {
	Evaluate(ctx context.Context) ([]model.Incident, error)
	Snapshot() *aggregate.Aggregate
	Reset()
	ForgetReported()
	RunID() string
}

type Server struct {
	cfg       *config.Manager
	incidents *incidents.Store
	engine    EngineControl
	logger    *slog.Logger
	version   string
	started   time.Time
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Uptime     string          `json:"uptime"`
	Version    string          `json:"version"`
	RunID      string          `json:"run_id"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Stats      aggregate.Stats `json:"stats"`
	Incidents  int             `json:"incidents"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	Syslog   bool `json:"syslog"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	Window         string `json:"window"`
	MinAttempts    int    `json:"min_attempts"`
	MissingAddress string `json:"missing_address"`
}

func NewServer(cfg *config.Manager, incidentsStore *incidents.Store, engine EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		incidents: incidentsStore,
		engine:    engine,
		logger:    logger,
		version:   version,
		started:   time.Now().UTC(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/incidents", s.handleIncidents)
	mux.HandleFunc("/addresses", s.handleAddresses)
	mux.HandleFunc("/admin/evaluate", s.handleEvaluate)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, incidentsStore *incidents.Store, engine EngineControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, incidentsStore, engine, logger, version)

	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	now := time.Now().UTC()
	resp := statusResponse{
		Status:     "ok",
		Time:       now.Format(time.RFC3339Nano),
		Uptime:     now.Sub(s.started).Truncate(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			Syslog:   cfg.Ingest.Syslog.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Detection: detectionStatus{
			Window:         cfg.Detection.Window.String(),
			MinAttempts:    cfg.Detection.MinAttempts,
			MissingAddress: cfg.Detection.MissingAddress,
		},
	}
	if s.engine != nil {
		resp.RunID = s.engine.RunID()
		resp.Stats = s.engine.Snapshot().Stats()
	}
	if s.incidents != nil {
		resp.Incidents = s.incidents.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Incident
	if sinceStr != "" {
		if ts, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			list = s.incidents.Since(ts)
		} else {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		list = s.incidents.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	snap := s.engine.Snapshot()
	var counts []model.AddressCount
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		counts = snap.TopFailed(n)
	} else {
		counts = snap.Counts()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"addresses": counts,
		"count":     len(counts),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	fresh, err := s.engine.Evaluate(r.Context())
	if err != nil {
		if s.logger != nil {
			s.logger.Error("manual evaluation failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"new_incidents": fresh,
		"count":         len(fresh),
	})
}

// handleClear takes an optional {"target": "incidents"|"all"} body.
// "incidents" empties the incident store and lets the next evaluation report
// runs still present in the grouped lines again. "all" also drops every
// grouped line.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.engine != nil {
			s.engine.Reset()
		}
		if s.incidents != nil {
			s.incidents.Clear()
		}
	case "incidents":
		if s.engine != nil {
			s.engine.ForgetReported()
		}
		if s.incidents != nil {
			s.incidents.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.logger != nil {
		s.logger.Info("state cleared", "target", target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
