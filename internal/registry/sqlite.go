package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lockstephq/lockstep/internal/contract"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - pre-migration database
// 1 - runs table with covering indexes
const currentSchemaVersion = 1

// SQLiteStore keeps the registry in a single SQLite database. The record
// JSON is stored whole; indexed columns exist only to serve the filter
// queries. Duplicate run ids are caught by the primary key, so concurrent
// writers need no registry-level lock.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates or opens a SQLite-backed registry at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//
// Opening is idempotent: schema creation and migrations are safe to run
// against an existing database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: connect: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: apply schema: %w", err)
	}

	o := newOptions(opts)
	return &SQLiteStore{db: db, now: o.now}, nil
}

// Save inserts the record. The primary key is the duplicate detector: a
// conflicting insert affects zero rows and maps to DuplicateRunId.
func (s *SQLiteStore) Save(ctx context.Context, rec *contract.ExperimentRecord) error {
	if err := stampRecord(rec, s.now); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry: marshal record %s: %w", rec.RunID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, strategy, config_hash, engine_id, created_at, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		rec.RunID,
		rec.Request.Strategy,
		rec.Result.Metadata.ConfigHash,
		rec.Result.Metadata.EngineID,
		rec.Result.Metadata.StartedAt.UTC().UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("registry: save %s: %w", rec.RunID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: save %s: rows affected: %w", rec.RunID, err)
	}
	if affected == 0 {
		return contract.NewDuplicateRunIDError(rec.RunID)
	}
	return nil
}

// Load reads one record by run id.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*contract.ExperimentRecord, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contract.NewRunNotFoundError(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: load %s: %w", runID, err)
	}

	rec := &contract.ExperimentRecord{}
	if err := json.Unmarshal([]byte(payload), rec); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", runID, err)
	}
	return rec, nil
}

// List compiles the filter to SQL with placeholder args and a deterministic
// ORDER BY.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]contract.RunMetadata, error) {
	query := `SELECT record FROM runs`
	var where []string
	var args []any

	if filter.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.Until.UTC().UnixNano())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	recs, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	metas := make([]contract.RunMetadata, len(recs))
	for i, rec := range recs {
		metas[i] = rec.Result.Metadata
	}
	return metas, nil
}

// FindByHash returns every run of one experiment design, newest first.
func (s *SQLiteStore) FindByHash(ctx context.Context, configHash string) ([]*contract.ExperimentRecord, error) {
	if configHash == "" {
		return nil, contract.NewValidationError("config_hash", "config hash is required")
	}
	return s.queryRecords(ctx, `
		SELECT record FROM runs
		WHERE config_hash = ?
		ORDER BY created_at DESC, run_id ASC
	`, configHash)
}

// Delete removes one record.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: delete %s: rows affected: %w", runID, err)
	}
	if affected == 0 {
		return contract.NewRunNotFoundError(runID)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*contract.ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: query runs: %w", err)
	}
	defer rows.Close()

	recs := []*contract.ExperimentRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("registry: scan run: %w", err)
		}
		rec := &contract.ExperimentRecord{}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, fmt.Errorf("registry: parse run: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate runs: %w", err)
	}
	return recs, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations stamps user_version and applies incremental migrations.
// Version 1 is fully described by schema.sql; later migrations slot in here
// as the schema evolves.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d",
			version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
