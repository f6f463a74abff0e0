package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite"

	"txguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:txguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, dialect: database.DialectSQLite3, dir: "sqlite"}}, nil
}

func (s *sqliteStore) SaveReport(ctx context.Context, batchID string, evaluatedAt time.Time, decisions []model.Decision) error {
	return s.saveRows(ctx,
		`INSERT INTO report_rows (batch_id, evaluated_at, row_index, user_id, amount, time_of_day, location, merchant, category, status, risk_score, reasons_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, evaluatedAt, decisions)
}

func (s *sqliteStore) LoadReport(ctx context.Context, batchID string) ([]model.Decision, error) {
	return s.loadRows(ctx,
		`SELECT user_id, amount, time_of_day, location, merchant, category, status, risk_score, reasons_json
		FROM report_rows WHERE batch_id = ? ORDER BY row_index`,
		batchID)
}
