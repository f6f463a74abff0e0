// Package storage archives evaluated reports. The archive is write-mostly:
// nothing in the engine reads state back from it.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/shopspring/decimal"

	"txguard/internal/config"
	"txguard/internal/model"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// ErrReportNotFound is returned by LoadReport for an unknown batch id.
var ErrReportNotFound = errors.New("report not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReport(ctx context.Context, batchID string, evaluatedAt time.Time, decisions []model.Decision) error
	LoadReport(ctx context.Context, batchID string) ([]model.Decision, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type baseStore struct {
	db      *sql.DB
	dialect database.Dialect
	dir     string
}

// Init applies any pending migrations for the store's dialect.
func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	fsys, err := fs.Sub(migrations, "migrations/"+b.dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(b.dialect, b.db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", b.dir, err)
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) saveRows(ctx context.Context, insert, batchID string, evaluatedAt time.Time, decisions []model.Decision) error {
	if b.db == nil || batchID == "" || len(decisions) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, d := range decisions {
		if _, err := stmt.ExecContext(ctx,
			batchID,
			evaluatedAt.UTC(),
			i+1,
			d.UserID,
			d.Amount.String(),
			d.Time,
			d.Location,
			d.Merchant,
			d.Category,
			string(d.Status),
			d.RiskScore,
			encodeJSON(d.Reasons),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) loadRows(ctx context.Context, query, batchID string) ([]model.Decision, error) {
	if b.db == nil {
		return nil, ErrReportNotFound
	}
	rows, err := b.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Decision, 0)
	for rows.Next() {
		var (
			d       model.Decision
			amount  string
			status  string
			reasons string
		)
		if err := rows.Scan(&d.UserID, &amount, &d.Time, &d.Location, &d.Merchant, &d.Category, &status, &d.RiskScore, &reasons); err != nil {
			return nil, err
		}
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("report %s: amount %q: %w", batchID, amount, err)
		}
		d.Status = model.Status(status)
		if !d.Status.Valid() {
			return nil, fmt.Errorf("report %s: unknown status %q", batchID, status)
		}
		if err := json.Unmarshal([]byte(reasons), &d.Reasons); err != nil {
			return nil, fmt.Errorf("report %s: reasons: %w", batchID, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrReportNotFound
	}
	return out, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
