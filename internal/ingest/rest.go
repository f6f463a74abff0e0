package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"txguard/internal/config"
	"txguard/internal/engine"
	"txguard/internal/normalize"
)

type RESTServer struct {
	cfg    *config.Manager
	eval   Evaluator
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, eval Evaluator, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, eval: eval, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/batches", s.handleBatches)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) *http.Server {
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
	server := NewRESTServer(cfg, eval, logger)
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := s.cfg.Get().Ingest.REST.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := ParseBatch(body)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest batch rejected", "err", err)
		}
		writeError(w, err)
		return
	}
	res, err := s.eval.EvaluateRecords(r.Context(), SourceREST, records)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StatusFor maps batch errors onto HTTP status codes.
func StatusFor(err error) int {
	var (
		verr     *normalize.ValidationError
		terr     *normalize.MalformedTimeError
		ferr     *FormatError
		colErr   *MissingColumnsError
		missing  *engine.MissingDataError
		bodySize *http.MaxBytesError
	)
	switch {
	case errors.As(err, &bodySize), errors.Is(err, engine.ErrBatchTooLarge), errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr), errors.As(err, &terr), errors.As(err, &ferr),
		errors.As(err, &colErr), errors.Is(err, ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.As(err, &missing):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
