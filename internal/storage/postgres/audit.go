package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq" // registers the postgres driver

	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

const schema = `
CREATE TABLE IF NOT EXISTS risk_audit_log (
	id         BIGSERIAL PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	profile    TEXT NOT NULL,
	parameter  TEXT NOT NULL,
	old_value  JSONB,
	new_value  JSONB,
	reason     TEXT NOT NULL DEFAULT ''
)`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// undefined_table
const codeUndefinedTable = "42P01"

// AuditLog is an append-only riskconfig.AuditSink backed by PostgreSQL
type AuditLog struct {
	db      *sqlx.DB
	timeout time.Duration
}

type auditRow struct {
	ID        int64     `db:"id"`
	Timestamp time.Time `db:"ts"`
	Profile   string    `db:"profile"`
	Parameter string    `db:"parameter"`
	OldValue  []byte    `db:"old_value"`
	NewValue  []byte    `db:"new_value"`
	Reason    string    `db:"reason"`
}

// NewAuditLog wraps an open connection
func NewAuditLog(db *sqlx.DB, timeout time.Duration) *AuditLog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuditLog{db: db, timeout: timeout}
}

// Open connects to dsn, pings it and ensures the audit table exists
func Open(ctx context.Context, dsn string) (*AuditLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log := NewAuditLog(db, 0)
	if err := log.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

// EnsureSchema creates the audit table if it does not exist
func (a *AuditLog) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create risk_audit_log: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// Append implements riskconfig.AuditSink
func (a *AuditLog) Append(ctx context.Context, entry riskconfig.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	oldJSON, err := json.Marshal(entry.OldValue)
	if err != nil {
		return fmt.Errorf("failed to marshal old value: %w", err)
	}
	newJSON, err := json.Marshal(entry.NewValue)
	if err != nil {
		return fmt.Errorf("failed to marshal new value: %w", err)
	}

	query := `
		INSERT INTO risk_audit_log (ts, profile, parameter, old_value, new_value, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = a.db.ExecContext(ctx, query,
		entry.Timestamp, string(entry.Profile), entry.Parameter, oldJSON, newJSON, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", describe(err))
	}
	return nil
}

// Entries implements riskconfig.AuditSink, oldest first
func (a *AuditLog) Entries(ctx context.Context) ([]riskconfig.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query := `
		SELECT id, ts, profile, parameter, old_value, new_value, reason
		FROM risk_audit_log
		ORDER BY id`

	var rows []auditRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", describe(err))
	}

	entries := make([]riskconfig.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := riskconfig.AuditEntry{
			Timestamp: r.Timestamp,
			Profile:   riskconfig.ProfileName(r.Profile),
			Parameter: r.Parameter,
			Reason:    r.Reason,
		}
		if len(r.OldValue) > 0 {
			if err := json.Unmarshal(r.OldValue, &e.OldValue); err != nil {
				return nil, fmt.Errorf("failed to decode old value of entry %d: %w", r.ID, err)
			}
		}
		if len(r.NewValue) > 0 {
			if err := json.Unmarshal(r.NewValue, &e.NewValue); err != nil {
				return nil, fmt.Errorf("failed to decode new value of entry %d: %w", r.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// describe adds a hint for errors the server reports by code
func describe(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == codeUndefinedTable {
		return fmt.Errorf("%w (run EnsureSchema first)", err)
	}
	return err
}
