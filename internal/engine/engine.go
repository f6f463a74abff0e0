package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"txguard/internal/audit"
	"txguard/internal/config"
	"txguard/internal/logging"
	"txguard/internal/memory"
	"txguard/internal/metrics"
	"txguard/internal/model"
	"txguard/internal/normalize"
	"txguard/internal/report"
	"txguard/internal/storage"
)

// SourceDirect labels batches handed to EvaluateBatch by Go callers.
const SourceDirect = "direct"

// ErrBatchTooLarge is returned when a batch exceeds batch.max_rows.
var ErrBatchTooLarge = errors.New("batch too large")

type Engine struct {
	logger *slog.Logger
	audit  *audit.Log
	memory *memory.Store
	store  storage.Store
	cfg    atomic.Value
	now    func() time.Time

	// commitMu makes the audit append and the memory update of one batch a
	// single step, so the latest snapshot matches the newest log entries.
	commitMu sync.Mutex
}

// RejectedRow is an input row skipped under the skip policy.
type RejectedRow struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type BatchResult struct {
	ID          string           `json:"batch_id"`
	Source      string           `json:"source"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Decisions   []model.Decision `json:"decisions"`
	LogEntries  []model.LogEntry `json:"log_entries"`
	Summary     report.Summary   `json:"summary"`
	Rejected    []RejectedRow    `json:"rejected,omitempty"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, auditLog *audit.Log, memoryStore *memory.Store, store storage.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if auditLog == nil {
		auditLog = audit.NewLog()
	}
	if memoryStore == nil {
		memoryStore = memory.NewStore()
	}
	e := &Engine{
		logger: logger,
		audit:  auditLog,
		memory: memoryStore,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

// UpdateConfig takes effect from the next batch; a batch in flight keeps
// the config it started with.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// EvaluateRecords normalizes raw rows and evaluates them as one batch,
// applying batch.on_invalid_row to rows that fail validation.
func (e *Engine) EvaluateRecords(ctx context.Context, source string, records []normalize.Record) (*BatchResult, error) {
	cfg := e.config()
	if err := checkSize(cfg, len(records)); err != nil {
		return nil, e.fail(source, err)
	}
	batch := make([]model.Transaction, 0, len(records))
	var rejected []RejectedRow
	for _, rec := range records {
		tx, err := normalize.Normalize(rec)
		if err != nil {
			if err := e.reject(cfg, source, rec.Row, err, &rejected); err != nil {
				return nil, err
			}
			continue
		}
		batch = append(batch, tx)
	}
	return e.run(ctx, cfg, source, batch, rejected)
}

// EvaluateBatch evaluates already-typed transactions. Input order is kept in
// the decisions and in the log entries.
func (e *Engine) EvaluateBatch(ctx context.Context, batch []model.Transaction) (*BatchResult, error) {
	cfg := e.config()
	if err := checkSize(cfg, len(batch)); err != nil {
		return nil, e.fail(SourceDirect, err)
	}
	valid := make([]model.Transaction, 0, len(batch))
	var rejected []RejectedRow
	for i, tx := range batch {
		if tx.Row == 0 {
			tx.Row = i + 1
		}
		if err := normalize.Validate(tx); err != nil {
			if err := e.reject(cfg, SourceDirect, tx.Row, err, &rejected); err != nil {
				return nil, err
			}
			continue
		}
		valid = append(valid, tx)
	}
	return e.run(ctx, cfg, SourceDirect, valid, rejected)
}

func checkSize(cfg *config.Config, n int) error {
	if cfg.Batch.MaxRows > 0 && n > cfg.Batch.MaxRows {
		return fmt.Errorf("%w: %d rows exceeds limit of %d", ErrBatchTooLarge, n, cfg.Batch.MaxRows)
	}
	return nil
}

func (e *Engine) reject(cfg *config.Config, source string, row int, err error, rejected *[]RejectedRow) error {
	metrics.RowsRejected.WithLabelValues(source).Inc()
	if cfg.Batch.OnInvalidRow != config.InvalidRowSkip {
		return e.fail(source, err)
	}
	e.logger.Warn("skipping invalid row", "source", source, "row", row, "error", err)
	*rejected = append(*rejected, RejectedRow{Row: row, Error: err.Error()})
	return nil
}

func (e *Engine) fail(source string, err error) error {
	metrics.BatchesTotal.WithLabelValues(source, "error").Inc()
	e.logger.Warn("batch rejected", "source", source, "error", err)
	return err
}

// run evaluates a validated batch. Nothing is appended to the log or the
// session memory unless every row evaluates.
func (e *Engine) run(ctx context.Context, cfg *config.Config, source string, batch []model.Transaction, rejected []RejectedRow) (*BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, e.fail(source, err)
	}
	start := time.Now()
	profiles, err := BuildProfiles(batch)
	if err != nil {
		return nil, e.fail(source, err)
	}
	rules := NewRules(cfg.Detection)
	id := uuid.NewString()
	evaluatedAt := e.now()

	decisions := make([]model.Decision, 0, len(batch))
	entries := make([]model.LogEntry, 0, len(batch))
	for _, tx := range batch {
		prof, err := profiles.Profile(tx.UserID)
		if err != nil {
			return nil, e.fail(source, err)
		}
		v, err := rules.Evaluate(tx, prof)
		if err != nil {
			return nil, e.fail(source, &normalize.ValidationError{Row: tx.Row, Field: normalize.FieldTime, Value: tx.Time, Err: err})
		}
		d := decide(tx, v)
		decisions = append(decisions, d)
		entries = append(entries, model.LogEntry{
			Timestamp: e.now(),
			BatchID:   id,
			UserID:    tx.UserID,
			Status:    v.Status,
			Action:    model.ActionFor(v.Status),
		})
		if v.Status == model.StatusFraud {
			e.logger.Warn("fraud detected",
				"batch_id", id,
				"user_id", tx.UserID,
				"amount", tx.Amount.String(),
				"risk_score", v.RiskScore,
				"reasons", v.Reasons,
			)
		}
	}

	e.commit(id, profiles, decisions, entries)

	summary := report.Summarize(decisions)
	metrics.BatchesTotal.WithLabelValues(source, "ok").Inc()
	metrics.BatchRows.Observe(float64(len(batch)))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	metrics.AuditLogEntries.Set(float64(e.audit.Len()))
	for _, status := range []model.Status{model.StatusNormal, model.StatusSuspicious, model.StatusFraud} {
		if n := summary.Count(status); n > 0 {
			metrics.DecisionsTotal.WithLabelValues(string(status)).Add(float64(n))
		}
	}
	e.logger.Info("batch evaluated",
		"batch_id", id,
		"source", source,
		"rows", len(batch),
		"rejected", len(rejected),
		"users", profiles.Len(),
		"normal", summary.Normal,
		"suspicious", summary.Suspicious,
		"fraud", summary.Fraud,
	)

	if e.store != nil {
		if err := e.store.SaveReport(ctx, id, evaluatedAt, decisions); err != nil {
			metrics.ReportSaveErrors.Inc()
			e.logger.Warn("report archive failed", "batch_id", id, "error", err)
		}
	}

	return &BatchResult{
		ID:          id,
		Source:      source,
		EvaluatedAt: evaluatedAt,
		Decisions:   decisions,
		LogEntries:  entries,
		Summary:     summary,
		Rejected:    rejected,
	}, nil
}

// commit appends the batch's log entries and, for a non-empty batch, replaces
// the session memory. An empty batch leaves the previous snapshot in place.
func (e *Engine) commit(id string, profiles *ProfileStore, decisions []model.Decision, entries []model.LogEntry) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	e.audit.AppendAll(entries)
	if len(decisions) > 0 {
		e.memory.Update(id, profiles.Users(), decisions)
	}
}

func decide(tx model.Transaction, v Verdict) model.Decision {
	return model.Decision{
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		Time:      tx.Time,
		Location:  tx.Location,
		Merchant:  tx.Merchant,
		Category:  tx.Category,
		Status:    v.Status,
		RiskScore: v.RiskScore,
		Reasons:   v.Reasons,
	}
}

// EvaluateSingle scores one transaction against an existing profile store
// without touching the audit log.
func (e *Engine) EvaluateSingle(tx model.Transaction, profiles *ProfileStore) (model.Decision, error) {
	cfg := e.config()
	if err := normalize.Validate(tx); err != nil {
		metrics.SimulationsTotal.WithLabelValues("invalid").Inc()
		return model.Decision{}, err
	}
	prof, err := profileFor(cfg, tx, profiles)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("missing_profile").Inc()
		return model.Decision{}, err
	}
	v, err := NewRules(cfg.Detection).Evaluate(tx, prof)
	if err != nil {
		metrics.SimulationsTotal.WithLabelValues("invalid").Inc()
		return model.Decision{}, err
	}
	metrics.SimulationsTotal.WithLabelValues(string(v.Status)).Inc()
	e.logger.Debug("simulated transaction", "user_id", tx.UserID, "status", v.Status, "risk_score", v.RiskScore)
	return decide(tx, v), nil
}

// profileFor resolves the user's batch profile. Under the self policy an
// unknown user is treated as if tx were their only transaction.
func profileFor(cfg *config.Config, tx model.Transaction, profiles *ProfileStore) (model.UserProfile, error) {
	prof, err := profiles.Profile(tx.UserID)
	if err == nil {
		return prof, nil
	}
	var missing *MissingDataError
	if errors.As(err, &missing) && cfg.Simulate.MissingProfile == config.MissingProfileSelf {
		return model.UserProfile{UserID: tx.UserID, Count: 1, Total: tx.Amount, Average: tx.Amount}, nil
	}
	return model.UserProfile{}, err
}

// Simulate evaluates tx against the most recent batch's profiles.
// Missing merchant and category fall back to simulate defaults.
func (e *Engine) Simulate(tx model.Transaction) (model.Decision, error) {
	cfg := e.config()
	if tx.Merchant == "" {
		tx.Merchant = cfg.Simulate.Merchant
	}
	if tx.Category == "" {
		tx.Category = cfg.Simulate.Category
	}
	var profiles *ProfileStore
	if snap, ok := e.memory.Latest(); ok {
		profiles = NewProfileStore(snap.Profiles...)
	}
	return e.EvaluateSingle(tx, profiles)
}

// CurrentLog returns every audit entry written this session, oldest first.
func (e *Engine) CurrentLog() []model.LogEntry {
	return e.audit.Snapshot()
}
