package stores

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// runRow mirrors one row of the runs table.
type runRow struct {
	id           string
	createdAt    time.Time
	planSnapshot []byte
	status       string
	parentRunID  sql.NullString
}

// toRun decodes the row into the engine's run type. The plan snapshot
// is always attached; records are loaded separately.
func (r *runRow) toRun() (*engine.Run, error) {
	var plan engine.Plan
	if err := json.Unmarshal(r.planSnapshot, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan snapshot for run %s: %w", r.id, err)
	}
	run := &engine.Run{
		ID:        r.id,
		CreatedAt: r.createdAt,
		Plan:      &plan,
		Status:    engine.RunStatus(r.status),
	}
	if r.parentRunID.Valid {
		run.ParentRunID = r.parentRunID.String
	}
	return run, nil
}

// recordRow mirrors one row of the operation_records table.
type recordRow struct {
	runID       string
	nodeID      string
	operation   string
	status      string
	startedAt   time.Time
	endedAt     sql.NullTime
	attempts    int
	errorDetail string
}

func (r *recordRow) toRecord() engine.OperationRecord {
	rec := engine.OperationRecord{
		RunID:     r.runID,
		NodeID:    r.nodeID,
		Operation: engine.Operation(r.operation),
		Status:    engine.RecordStatus(r.status),
		StartedAt: r.startedAt,
		Attempts:  r.attempts,
		Detail:    r.errorDetail,
	}
	if r.endedAt.Valid {
		t := r.endedAt.Time
		rec.EndedAt = &t
	}
	return rec
}
