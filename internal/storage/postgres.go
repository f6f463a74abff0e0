package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3/database"

	"txguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/txguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, dialect: database.DialectPostgres, dir: "postgres"}}, nil
}

func (s *postgresStore) SaveReport(ctx context.Context, batchID string, evaluatedAt time.Time, decisions []model.Decision) error {
	return s.saveRows(ctx,
		`INSERT INTO report_rows (batch_id, evaluated_at, row_index, user_id, amount, time_of_day, location, merchant, category, status, risk_score, reasons_json)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12::jsonb)`,
		batchID, evaluatedAt, decisions)
}

func (s *postgresStore) LoadReport(ctx context.Context, batchID string) ([]model.Decision, error) {
	return s.loadRows(ctx,
		`SELECT user_id, amount::text, time_of_day, location, merchant, category, status, risk_score, reasons_json::text
		FROM report_rows WHERE batch_id = $1 ORDER BY row_index`,
		batchID)
}
