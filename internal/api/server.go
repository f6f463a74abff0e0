package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"txguard/internal/audit"
	"txguard/internal/config"
	"txguard/internal/ingest"
	"txguard/internal/memory"
	"txguard/internal/model"
	"txguard/internal/normalize"
	"txguard/internal/report"
	"txguard/internal/storage"
)

type EngineControl interface {
	Simulate(tx model.Transaction) (model.Decision, error)
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg     *config.Manager
	audit   *audit.Log
	memory  *memory.Store
	reports storage.Store
	engine  EngineControl
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status      string          `json:"status"`
	Time        string          `json:"time"`
	Version     string          `json:"version"`
	ConfigPath  string          `json:"config_path"`
	Ingest      ingestStatus    `json:"ingest"`
	API         apiStatus       `json:"api"`
	Storage     bool            `json:"storage"`
	Detection   detectionStatus `json:"detection"`
	LogEntries  int             `json:"log_entries"`
	LatestBatch string          `json:"latest_batch,omitempty"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Kafka     bool `json:"kafka"`
	Inbox     bool `json:"inbox"`
	TCPStream bool `json:"tcp_stream"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type detectionStatus struct {
	KnownLocations      []string `json:"known_locations"`
	SafeHours           [2]int   `json:"safe_hours"`
	SuspiciousThreshold int      `json:"suspicious_threshold"`
	FraudThreshold      int      `json:"fraud_threshold"`
}

func NewServer(cfg *config.Manager, auditLog *audit.Log, memoryStore *memory.Store, reports storage.Store, engine EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		audit:   auditLog,
		memory:  memoryStore,
		reports: reports,
		engine:  engine,
		logger:  logger,
		version: version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/v1/log", s.handleLog)
	mux.HandleFunc("/v1/memory", s.handleMemory)
	mux.HandleFunc("/v1/memory/", s.handleMemory)
	mux.HandleFunc("/v1/summary", s.handleSummary)
	mux.HandleFunc("/v1/report.csv", s.handleReport)
	mux.HandleFunc("/v1/simulate", s.handleSimulate)
	mux.HandleFunc("/v1/config/detection", s.handleDetection)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, auditLog *audit.Log, memoryStore *memory.Store, reports storage.Store, engine EngineControl, logger *slog.Logger, version string) *http.Server {
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
	server := NewServer(cfg, auditLog, memoryStore, reports, engine, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
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
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			Inbox:     cfg.Ingest.Inbox.Enabled,
			TCPStream: cfg.Ingest.TCP.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: s.reports != nil,
		Detection: detectionStatus{
			KnownLocations:      cfg.Detection.KnownLocations,
			SafeHours:           [2]int{cfg.Detection.SafeHourStart, cfg.Detection.SafeHourEnd},
			SuspiciousThreshold: cfg.Detection.SuspiciousThreshold,
			FraudThreshold:      cfg.Detection.FraudThreshold,
		},
		LogEntries: s.audit.Len(),
	}
	if snap, ok := s.memory.Latest(); ok {
		resp.LatestBatch = snap.BatchID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
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
	var list []model.LogEntry
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.audit.Since(ts)
	} else {
		list = s.audit.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": list,
		"count":   len(list),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user := strings.TrimPrefix(r.URL.Path, "/v1/memory")
	user = strings.TrimPrefix(user, "/")
	if user != "" {
		profile, updated, ok := s.memory.Get(user)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile for user " + user})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile":    profile,
			"updated_at": updated.Format(time.RFC3339Nano),
		})
		return
	}
	snap, ok := s.memory.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"profiles": []model.UserProfile{}, "count": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":   snap.BatchID,
		"updated_at": snap.UpdatedAt.Format(time.RFC3339Nano),
		"profiles":   snap.Profiles,
		"count":      len(snap.Profiles),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.memory.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no batch evaluated yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": snap.BatchID,
		"summary":  report.Summarize(snap.Decisions),
	})
}

// handleReport serves the latest batch, or ?batch=<id> from the archive.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var (
		batchID   string
		decisions []model.Decision
	)
	if batchID = r.URL.Query().Get("batch"); batchID != "" {
		if s.reports == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "report archive disabled"})
			return
		}
		var err error
		decisions, err = s.reports.LoadReport(r.Context(), batchID)
		if errors.Is(err, storage.ErrReportNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			if s.logger != nil {
				s.logger.Error("report load failed", "batch_id", batchID, "err", err)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	} else {
		snap, ok := s.memory.Latest()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no batch evaluated yet"})
			return
		}
		batchID, decisions = snap.BatchID, snap.Decisions
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, decisions); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="fraud_report_`+batchID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rec := ingest.ParseJSONMap(obj, 0)
	defaults := s.cfg.Get().Simulate
	if strings.TrimSpace(rec.Merchant) == "" {
		rec.Merchant = defaults.Merchant
	}
	if strings.TrimSpace(rec.Category) == "" {
		rec.Category = defaults.Category
	}
	tx, err := normalize.Normalize(rec)
	if err != nil {
		writeJSON(w, ingest.StatusFor(err), map[string]string{"error": err.Error()})
		return
	}
	decision, err := s.engine.Simulate(tx)
	if err != nil {
		writeJSON(w, ingest.StatusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"action":   model.ActionFor(decision.Status),
	})
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"detection": s.cfg.Get().Detection,
		})
		return
	case http.MethodPut, http.MethodPost:
		if !s.cfg.Get().API.AllowConfigUpdates {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "config updates are disabled"})
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Detection.KnownLocations = append([]string(nil), current.Detection.KnownLocations...)
		if err := json.Unmarshal(body, &next.Detection); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		if s.logger != nil {
			s.logger.Info("detection config updated", "known_locations", next.Detection.KnownLocations)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "detection": next.Detection})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
