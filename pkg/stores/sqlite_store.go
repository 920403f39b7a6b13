package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.Store on a single SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection. WAL mode with synchronous=FULL
// makes every committed write durable before the call returns; the
// immediate transaction lock serializes writers at BEGIN so the
// CreateRun guard cannot race.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"%s?_txlock=immediate&_time_format=sqlite&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// storeError wraps an infrastructure failure with the store taxonomy
// code so callers can tell persistence trouble from deployment trouble.
func storeError(message string, err error) error {
	return engine.NewTransientError(message, err).WithCode(engine.ErrCodeStore)
}

// CreateRun persists a new run in created status with the plan
// snapshotted as JSON. The active-run guard and the insert run in one
// immediate transaction: either the run is created and owns its nodes,
// or a CONCURRENT_RUN error is returned and nothing is written.
func (s *SQLiteStore) CreateRun(ctx context.Context, plan *engine.Plan, parentRunID string) (*engine.Run, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, engine.NewValidationError("cannot create a run for an empty plan")
	}

	snapshot, err := json.Marshal(plan)
	if err != nil {
		return nil, engine.NewPermanentError("failed to encode plan snapshot", err).
			WithCode(engine.ErrCodeStore)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkNodeOwnership(ctx, tx, plan); err != nil {
		return nil, err
	}

	run := &engine.Run{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Plan:        plan,
		Status:      engine.RunStatusCreated,
		ParentRunID: parentRunID,
	}

	var parent interface{}
	if parentRunID != "" {
		parent = parentRunID
	}

	query := `
		INSERT INTO runs (id, created_at, plan_snapshot, status, parent_run_id)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID,
		run.CreatedAt,
		string(snapshot),
		string(run.Status),
		parent,
	)
	if err != nil {
		return nil, storeError("failed to create run", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("failed to commit run", err)
	}

	return run, nil
}

// checkNodeOwnership fails with a CONCURRENT_RUN error when any active
// run's plan shares a node with the given plan.
func (s *SQLiteStore) checkNodeOwnership(ctx context.Context, tx *sql.Tx, plan *engine.Plan) error {
	planned := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		planned[step.NodeID] = true
	}

	query := `SELECT id, plan_snapshot FROM runs WHERE status IN (?, ?)`
	rows, err := tx.QueryContext(ctx, query,
		string(engine.RunStatusCreated), string(engine.RunStatusRunning))
	if err != nil {
		return storeError("failed to query active runs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var snapshot []byte
		if err := rows.Scan(&id, &snapshot); err != nil {
			return storeError("failed to scan active run", err)
		}
		var active engine.Plan
		if err := json.Unmarshal(snapshot, &active); err != nil {
			return storeError(fmt.Sprintf("failed to decode plan snapshot for run %s", id), err)
		}
		for _, step := range active.Steps {
			if planned[step.NodeID] {
				return engine.NewConcurrentRunError(id, step.NodeID)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return storeError("error iterating active runs", err)
	}
	return nil
}

// UpdateRunStatus moves a run to the given status.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status engine.RunStatus) error {
	if err := status.Validate(); err != nil {
		return engine.NewValidationError("invalid run status: %s", status)
	}

	query := `UPDATE runs SET status = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, string(status), runID)
	if err != nil {
		return storeError("failed to update run status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError("failed to get rows affected", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("run", runID)
	}

	return nil
}

// RecordTransition records one step status change. The first
// transition for a (run, node) pair inserts the record; later
// transitions update it in place while it is open. A closed record is
// never touched again.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t engine.Transition) error {
	now := time.Now().UTC()
	var endedAt interface{}
	if t.Status.IsTerminal() {
		endedAt = now
	}

	query := `
		INSERT INTO operation_records (run_id, node_id, operation, status, started_at, ended_at, attempts, error_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, node_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			attempts = excluded.attempts,
			error_detail = excluded.error_detail
		WHERE operation_records.ended_at IS NULL
	`

	_, err := s.db.ExecContext(ctx, query,
		t.RunID,
		t.NodeID,
		string(t.Operation),
		string(t.Status),
		now,
		endedAt,
		t.Attempts,
		t.Detail,
	)
	if err != nil {
		return storeError("failed to record transition", err)
	}

	return nil
}

// GetRun loads a run with its plan snapshot and records.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*engine.Run, error) {
	query := `
		SELECT id, created_at, plan_snapshot, status, parent_run_id
		FROM runs
		WHERE id = ?
	`

	var row runRow
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&row.id,
		&row.createdAt,
		&row.planSnapshot,
		&row.status,
		&row.parentRunID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("run", runID)
	}
	if err != nil {
		return nil, storeError("failed to get run", err)
	}

	run, err := row.toRun()
	if err != nil {
		return nil, storeError("failed to decode run", err)
	}

	records, err := s.recordsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Records = records
	return run, nil
}

func (s *SQLiteStore) recordsForRun(ctx context.Context, runID string) ([]engine.OperationRecord, error) {
	query := `
		SELECT run_id, node_id, operation, status, started_at, ended_at, attempts, error_detail
		FROM operation_records
		WHERE run_id = ?
		ORDER BY started_at ASC, node_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, storeError("failed to list operation records", err)
	}
	defer rows.Close()

	var records []engine.OperationRecord
	for rows.Next() {
		var row recordRow
		err := rows.Scan(
			&row.runID,
			&row.nodeID,
			&row.operation,
			&row.status,
			&row.startedAt,
			&row.endedAt,
			&row.attempts,
			&row.errorDetail,
		)
		if err != nil {
			return nil, storeError("failed to scan operation record", err)
		}
		records = append(records, row.toRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("error iterating operation records", err)
	}

	return records, nil
}

// ListRuns returns runs matching the filter, newest first, without
// their record lists. The service filter inspects the decoded plan
// snapshots, so it is applied after the scan.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter engine.RunFilter) ([]*engine.Run, error) {
	query := `
		SELECT id, created_at, plan_snapshot, status, parent_run_id
		FROM runs
	`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("failed to list runs", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		var row runRow
		err := rows.Scan(
			&row.id,
			&row.createdAt,
			&row.planSnapshot,
			&row.status,
			&row.parentRunID,
		)
		if err != nil {
			return nil, storeError("failed to scan run", err)
		}
		run, err := row.toRun()
		if err != nil {
			return nil, storeError("failed to decode run", err)
		}
		if filter.Service != "" && !planTouches(run.Plan, filter.Service) {
			continue
		}
		runs = append(runs, run)
		if filter.Limit > 0 && len(runs) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("error iterating runs", err)
	}

	return runs, nil
}

func planTouches(plan *engine.Plan, service string) bool {
	for _, step := range plan.Steps {
		if step.Service == service {
			return true
		}
	}
	return false
}

// DeployedState returns the most recent successful outcome per node
// across all runs, sorted by node ID. Inherited successes are
// excluded: the run that actually executed the step is the one
// reported.
func (s *SQLiteStore) DeployedState(ctx context.Context) ([]engine.DeployedNode, error) {
	query := `
		SELECT node_id, operation, run_id, ended_at FROM (
			SELECT node_id, operation, run_id, ended_at,
			       ROW_NUMBER() OVER (PARTITION BY node_id ORDER BY ended_at DESC) AS rn
			FROM operation_records
			WHERE status = ? AND error_detail NOT LIKE ?
		)
		WHERE rn = 1
		ORDER BY node_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(engine.RecordStatusSuccess), engine.SkipDetailPrefix+"%")
	if err != nil {
		return nil, storeError("failed to query deployed state", err)
	}
	defer rows.Close()

	nodes := []engine.DeployedNode{}
	for rows.Next() {
		var node engine.DeployedNode
		var op string
		if err := rows.Scan(&node.NodeID, &op, &node.RunID, &node.EndedAt); err != nil {
			return nil, storeError("failed to scan deployed node", err)
		}
		node.Operation = engine.Operation(op)
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("error iterating deployed state", err)
	}

	return nodes, nil
}

// LineageSuccesses maps node IDs to the run in which they last
// actually succeeded within the resume lineage ending at runID. The
// lineage is the chain of parent runs, the given run excluded;
// inherited successes are skipped so the map always points at the run
// that executed the step.
func (s *SQLiteStore) LineageSuccesses(ctx context.Context, runID string) (map[string]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("run", runID)
	}
	if err != nil {
		return nil, storeError("failed to check run", err)
	}

	query := `
		WITH RECURSIVE lineage(id) AS (
			SELECT parent_run_id FROM runs WHERE id = ? AND parent_run_id IS NOT NULL
			UNION
			SELECT r.parent_run_id FROM runs r
			INNER JOIN lineage l ON r.id = l.id
			WHERE r.parent_run_id IS NOT NULL
		)
		SELECT node_id, run_id FROM operation_records
		WHERE run_id IN (SELECT id FROM lineage)
		  AND status = ?
		  AND error_detail NOT LIKE ?
		ORDER BY ended_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query,
		runID, string(engine.RecordStatusSuccess), engine.SkipDetailPrefix+"%")
	if err != nil {
		return nil, storeError("failed to query lineage", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var nodeID, ownerRunID string
		if err := rows.Scan(&nodeID, &ownerRunID); err != nil {
			return nil, storeError("failed to scan lineage row", err)
		}
		out[nodeID] = ownerRunID
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("error iterating lineage", err)
	}

	return out, nil
}

// ReleaseRun force-finishes an active run as a failure, closing any
// records it left open, so its nodes become plannable again. Releasing
// a run that already reached a terminal status is a no-op.
func (s *SQLiteStore) ReleaseRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ? AND status IN (?, ?)`,
		string(engine.RunStatusFailure), runID,
		string(engine.RunStatusCreated), string(engine.RunStatusRunning))
	if err != nil {
		return storeError("failed to release run", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return storeError("failed to get rows affected", err)
	}
	if released == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return engine.NewNotFoundError("run", runID)
		}
		if err != nil {
			return storeError("failed to check run", err)
		}
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE operation_records SET status = ?, ended_at = ?, error_detail = ? WHERE run_id = ? AND ended_at IS NULL`,
		string(engine.RecordStatusFailure), time.Now().UTC(), "released while still open", runID)
	if err != nil {
		return storeError("failed to close open records", err)
	}

	return tx.Commit()
}
