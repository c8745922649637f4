// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite orchestrator store for single-node
// deployments and embedded use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	conductorerrors "github.com/tombee/flowkeep/pkg/errors"
	"github.com/tombee/flowkeep/store"
)

func newID() string {
	return uuid.NewString()
}

// Compile-time interface assertion.
var _ store.Store = (*Backend)(nil)

// Backend is a SQLite orchestrator store.
type Backend struct {
	db           *sql.DB
	claimTimeout time.Duration
	pollInterval time.Duration
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. Use ":memory:" for an ephemeral
	// in-process database (mainly for tests; prefer store/memory there).
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool

	// ClaimTimeout overrides store.DefaultClaimTimeout if non-zero.
	ClaimTimeout time.Duration

	// PollInterval is the cadence SubscribePendingWorkflows polls at,
	// since SQLite has no native LISTEN/NOTIFY. Default 500ms.
	PollInterval time.Duration
}

// New opens (and migrates) a SQLite-backed store.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to open database")
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn
	// and makes every transaction below effectively serializable.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, conductorerrors.Wrap(err, "failed to connect to database")
	}

	claimTimeout := cfg.ClaimTimeout
	if claimTimeout == 0 {
		claimTimeout = store.DefaultClaimTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 500 * time.Millisecond
	}

	b := &Backend{db: db, claimTimeout: claimTimeout, pollInterval: pollInterval}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, conductorerrors.Wrap(err, "failed to configure pragmas")
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, conductorerrors.Wrap(err, "failed to run migrations")
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return conductorerrors.Wrapf(err, "failed to execute %s", pragma)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			error TEXT,
			claimed_by TEXT,
			claimed_at DATETIME,
			lease_expires_at DATETIME,
			sleep_until DATETIME,
			pending_signals TEXT NOT NULL DEFAULT '{}',
			creation_time DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status_lease ON workflows(status, lease_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status_sleep ON workflows(status, sleep_until)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_name_status ON workflows(name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_name_status_lease ON workflows(name, status, lease_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_name_status_sleep ON workflows(name, status, sleep_until)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			output BLOB,
			error TEXT,
			sleep_until DATETIME,
			awaiting_signal TEXT,
			attempts INTEGER NOT NULL DEFAULT 1,
			started_at DATETIME,
			completed_at DATETIME,
			creation_time DATETIME NOT NULL,
			UNIQUE(workflow_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_workflow_id ON steps(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_workflow_id_name ON steps(workflow_id, name)`,
	}
	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return conductorerrors.Wrap(err, "migration failed")
		}
	}
	return nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func scanTime(raw sql.NullTime) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := raw.Time
	return &t
}

func (b *Backend) StartWorkflow(ctx context.Context, name string, input []byte) (string, error) {
	id := newID()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, input, pending_signals, creation_time)
		VALUES (?, ?, ?, ?, '{}', ?)
	`, id, name, store.StatusPending, input, time.Now())
	if err != nil {
		return "", conductorerrors.Wrap(err, "failed to insert workflow")
	}
	return id, nil
}

// Claim implements the selection policy in order: oldest pending, then
// earliest due-sleeper, then oldest expired-lease. Each candidate scan
// and the row update that claims it run in one transaction so no two
// concurrent callers can claim the same row.
func (b *Backend) Claim(ctx context.Context, workflowNames []string, workerID string) (*store.ClaimedWorkflow, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	nameFilter, nameArgs := nameClause(workflowNames)

	var id, name string
	var input []byte

	pendingQuery := `SELECT id, name, input FROM workflows WHERE status = ?` + nameFilter + ` ORDER BY creation_time ASC LIMIT 1`
	args := append([]any{store.StatusPending}, nameArgs...)
	err = tx.QueryRowContext(ctx, pendingQuery, args...).Scan(&id, &name, &input)

	if err == sql.ErrNoRows {
		sleeperQuery := `SELECT id, name, input FROM workflows WHERE status = ? AND sleep_until <= ?` + nameFilter + ` ORDER BY sleep_until ASC, creation_time ASC LIMIT 1`
		args = append([]any{store.StatusSleeping, now}, nameArgs...)
		err = tx.QueryRowContext(ctx, sleeperQuery, args...).Scan(&id, &name, &input)
	}

	if err == sql.ErrNoRows {
		expiredQuery := `SELECT id, name, input FROM workflows WHERE status = ? AND lease_expires_at < ?` + nameFilter + ` ORDER BY creation_time ASC LIMIT 1`
		args = append([]any{store.StatusRunning, now}, nameArgs...)
		err = tx.QueryRowContext(ctx, expiredQuery, args...).Scan(&id, &name, &input)
	}

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to select claimable workflow")
	}

	lease := now.Add(b.claimTimeout)
	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, claimed_by = ?, claimed_at = ?, lease_expires_at = ?, sleep_until = NULL
		WHERE id = ?
	`, store.StatusRunning, workerID, now, lease, id)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to claim workflow")
	}

	if err := tx.Commit(); err != nil {
		return nil, conductorerrors.Wrap(err, "failed to commit claim")
	}

	return &store.ClaimedWorkflow{WorkflowID: id, Name: name, Input: input}, nil
}

func nameClause(names []string) (string, []any) {
	if store.IsWildcard(names) {
		return "", nil
	}
	placeholders := ""
	args := make([]any, len(names))
	for i, n := range names {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = n
	}
	return " AND name IN (" + placeholders + ")", args
}

func (b *Backend) Heartbeat(ctx context.Context, workflowID, workerID string) (bool, error) {
	now := time.Now()
	lease := now.Add(b.claimTimeout)
	res, err := b.db.ExecContext(ctx, `
		UPDATE workflows SET claimed_at = ?, lease_expires_at = ?
		WHERE id = ? AND claimed_by = ? AND status = ?
	`, now, lease, workflowID, workerID, store.StatusRunning)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to heartbeat")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *Backend) CompleteWorkflow(ctx context.Context, workflowID, workerID string, output []byte) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, output = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND claimed_by = ? AND status = ?
	`, store.StatusCompleted, output, workflowID, workerID, store.StatusRunning)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to complete workflow")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *Backend) FailWorkflow(ctx context.Context, workflowID, workerID string, errMsg string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, error = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND claimed_by = ? AND status = ?
	`, store.StatusFailed, errMsg, workflowID, workerID, store.StatusRunning)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to fail workflow")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *Backend) SleepWorkflow(ctx context.Context, workflowID, workerID string, sleepUntil time.Time) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, sleep_until = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ? AND claimed_by = ? AND status = ?
	`, store.StatusSleeping, sleepUntil, workflowID, workerID, store.StatusRunning)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to sleep workflow")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *Backend) ScheduleSleep(ctx context.Context, workflowID, stepID, workerID string, sleepUntil time.Time) (bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var claimedBy sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `SELECT claimed_by, status FROM workflows WHERE id = ?`, workflowID).Scan(&claimedBy, &status)
	if err == sql.ErrNoRows || (err == nil && (claimedBy.String != workerID || status != string(store.StatusRunning))) {
		return false, nil
	}
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to read workflow")
	}

	var existing sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT sleep_until FROM steps WHERE id = ? AND workflow_id = ?`, stepID, workflowID).Scan(&existing)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to read step")
	}

	wake := sleepUntil
	if existing.Valid {
		wake = existing.Time
	}
	if !wake.After(time.Now()) {
		return false, nil
	}

	if !existing.Valid {
		if _, err := tx.ExecContext(ctx, `UPDATE steps SET sleep_until = ? WHERE id = ?`, wake, stepID); err != nil {
			return false, conductorerrors.Wrap(err, "failed to write sleep marker")
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, sleep_until = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL
		WHERE id = ?
	`, store.StatusSleeping, wake, workflowID); err != nil {
		return false, conductorerrors.Wrap(err, "failed to transition workflow to sleeping")
	}

	if err := tx.Commit(); err != nil {
		return false, conductorerrors.Wrap(err, "failed to commit schedule sleep")
	}
	return true, nil
}

func (b *Backend) WaitForSignal(ctx context.Context, workflowID, stepID, workerID, signalName string) (store.SignalResult, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var claimedBy sql.NullString
	var status, pendingJSON string
	err = tx.QueryRowContext(ctx, `SELECT claimed_by, status, pending_signals FROM workflows WHERE id = ?`, workflowID).Scan(&claimedBy, &status, &pendingJSON)
	if err == sql.ErrNoRows {
		return store.SignalResult{}, &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	if err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to read workflow")
	}
	if claimedBy.String != workerID || status != string(store.StatusRunning) {
		return store.SignalResult{}, &conductorerrors.OwnershipError{WorkflowID: workflowID, WorkerID: workerID}
	}

	pending := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(pendingJSON), &pending); err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to decode pending signals")
	}

	if payload, ok := pending[signalName]; ok {
		delete(pending, signalName)
		newJSON, err := json.Marshal(pending)
		if err != nil {
			return store.SignalResult{}, conductorerrors.Wrap(err, "failed to encode pending signals")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET pending_signals = ? WHERE id = ?`, string(newJSON), workflowID); err != nil {
			return store.SignalResult{}, conductorerrors.Wrap(err, "failed to consume pending signal")
		}
		if err := tx.Commit(); err != nil {
			return store.SignalResult{}, conductorerrors.Wrap(err, "failed to commit")
		}
		return store.SignalResult{Signaled: true, Payload: []byte(payload)}, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE steps SET awaiting_signal = ? WHERE id = ? AND workflow_id = ?`, signalName, stepID, workflowID); err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to register waiter")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, claimed_by = NULL, claimed_at = NULL, lease_expires_at = NULL WHERE id = ?
	`, store.StatusWaiting, workflowID); err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to transition workflow to waiting")
	}
	if err := tx.Commit(); err != nil {
		return store.SignalResult{}, conductorerrors.Wrap(err, "failed to commit")
	}
	return store.SignalResult{Signaled: false}, nil
}

func (b *Backend) SignalWorkflow(ctx context.Context, workflowID, signalName string, payload []byte) (bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var stepID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM steps WHERE workflow_id = ? AND status = ? AND awaiting_signal = ?
	`, workflowID, store.StatusRunning, signalName).Scan(&stepID)

	if err == sql.ErrNoRows {
		var pendingJSON string
		if err := tx.QueryRowContext(ctx, `SELECT pending_signals FROM workflows WHERE id = ?`, workflowID).Scan(&pendingJSON); err != nil {
			if err == sql.ErrNoRows {
				return false, nil
			}
			return false, conductorerrors.Wrap(err, "failed to read workflow")
		}
		pending := map[string]json.RawMessage{}
		if err := json.Unmarshal([]byte(pendingJSON), &pending); err != nil {
			return false, conductorerrors.Wrap(err, "failed to decode pending signals")
		}
		pending[signalName] = payload
		newJSON, err := json.Marshal(pending)
		if err != nil {
			return false, conductorerrors.Wrap(err, "failed to encode pending signals")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET pending_signals = ? WHERE id = ?`, string(newJSON), workflowID); err != nil {
			return false, conductorerrors.Wrap(err, "failed to enqueue signal")
		}
		return true, tx.Commit()
	}
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to find waiting step")
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE steps SET status = ?, output = ?, awaiting_signal = NULL, completed_at = ? WHERE id = ?
	`, store.StatusCompleted, payload, now, stepID); err != nil {
		return false, conductorerrors.Wrap(err, "failed to complete waiting step")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE workflows SET status = ? WHERE id = ?`, store.StatusPending, workflowID); err != nil {
		return false, conductorerrors.Wrap(err, "failed to transition workflow to pending")
	}

	return true, tx.Commit()
}

func (b *Backend) GetOrCreateStep(ctx context.Context, workflowID, stepName, workerID string) (store.StepInfo, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return store.StepInfo{}, conductorerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var claimedBy sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `SELECT claimed_by, status FROM workflows WHERE id = ?`, workflowID).Scan(&claimedBy, &status)
	if err == sql.ErrNoRows {
		return store.StepInfo{}, &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	if err != nil {
		return store.StepInfo{}, conductorerrors.Wrap(err, "failed to read workflow")
	}
	if claimedBy.String != workerID || status != string(store.StatusRunning) {
		return store.StepInfo{}, &conductorerrors.OwnershipError{WorkflowID: workflowID, WorkerID: workerID}
	}

	var id, stepStatus string
	var output []byte
	var stepErr sql.NullString
	var sleepUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, status, output, error, sleep_until FROM steps WHERE workflow_id = ? AND name = ?
	`, workflowID, stepName).Scan(&id, &stepStatus, &output, &stepErr, &sleepUntil)

	if err == nil {
		if err := tx.Commit(); err != nil {
			return store.StepInfo{}, conductorerrors.Wrap(err, "failed to commit")
		}
		return store.StepInfo{
			StepID:     id,
			Status:     store.Status(stepStatus),
			Output:     output,
			Error:      stepErr.String,
			SleepUntil: scanTime(sleepUntil),
			IsNew:      false,
		}, nil
	}
	if err != sql.ErrNoRows {
		return store.StepInfo{}, conductorerrors.Wrap(err, "failed to read step")
	}

	id = newID()
	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO steps (id, workflow_id, name, status, attempts, started_at, creation_time)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, id, workflowID, stepName, store.StatusRunning, now, now); err != nil {
		return store.StepInfo{}, conductorerrors.Wrap(err, "failed to insert step")
	}

	if err := tx.Commit(); err != nil {
		return store.StepInfo{}, conductorerrors.Wrap(err, "failed to commit")
	}
	return store.StepInfo{StepID: id, Status: store.StatusRunning, IsNew: true}, nil
}

func (b *Backend) CompleteStep(ctx context.Context, stepID, workerID string, output []byte) (bool, error) {
	return b.finishStep(ctx, stepID, workerID, store.StatusCompleted, output, "")
}

func (b *Backend) FailStep(ctx context.Context, stepID, workerID string, errMsg string) (bool, error) {
	return b.finishStep(ctx, stepID, workerID, store.StatusFailed, nil, errMsg)
}

func (b *Backend) finishStep(ctx context.Context, stepID, workerID string, status store.Status, output []byte, errMsg string) (bool, error) {
	now := time.Now()
	res, err := b.db.ExecContext(ctx, `
		UPDATE steps SET status = ?, output = ?, error = ?, sleep_until = NULL, completed_at = ?
		WHERE id = ? AND status = ? AND workflow_id IN (
			SELECT id FROM workflows WHERE claimed_by = ? AND status = ?
		)
	`, status, output, errMsg, now, stepID, store.StatusRunning, workerID, store.StatusRunning)
	if err != nil {
		return false, conductorerrors.Wrap(err, "failed to finish step")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *Backend) GetWorkflow(ctx context.Context, workflowID string) (*store.Workflow, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, name, status, input, output, error, claimed_by, claimed_at, lease_expires_at,
			sleep_until, pending_signals, creation_time
		FROM workflows WHERE id = ?
	`, workflowID)

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to get workflow")
	}

	wf.StepIDsByName, err = b.stepIDsByName(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func scanWorkflow(row *sql.Row) (*store.Workflow, error) {
	var wf store.Workflow
	var status string
	var claimedBy, wfErr sql.NullString
	var claimedAt, leaseExpiresAt, sleepUntil sql.NullTime
	var pendingJSON string

	err := row.Scan(
		&wf.ID, &wf.Name, &status, &wf.Input, &wf.Output, &wfErr,
		&claimedBy, &claimedAt, &leaseExpiresAt, &sleepUntil, &pendingJSON, &wf.CreationTime,
	)
	if err != nil {
		return nil, err
	}

	wf.Status = store.Status(status)
	wf.Error = wfErr.String
	wf.ClaimedBy = claimedBy.String
	wf.ClaimedAt = scanTime(claimedAt)
	wf.LeaseExpiresAt = scanTime(leaseExpiresAt)
	wf.SleepUntil = scanTime(sleepUntil)

	pending := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(pendingJSON), &pending); err != nil {
		return nil, conductorerrors.Wrap(err, "failed to decode pending signals")
	}
	wf.PendingSignals = make(map[string][]byte, len(pending))
	for k, v := range pending {
		wf.PendingSignals[k] = []byte(v)
	}

	return &wf, nil
}

func (b *Backend) stepIDsByName(ctx context.Context, workflowID string) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, id FROM steps WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to list step ids")
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, conductorerrors.Wrap(err, "failed to scan step id")
		}
		result[name] = id
	}
	return result, rows.Err()
}

func (b *Backend) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	query := `
		SELECT id, name, status, input, output, error, claimed_by, claimed_at, lease_expires_at,
			sleep_until, pending_signals, creation_time
		FROM workflows WHERE 1=1
	`
	var args []any
	if filter.Name != "" {
		query += " AND name = ?"
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY creation_time ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to list workflows")
	}
	defer rows.Close()

	var result []*store.Workflow
	for rows.Next() {
		var wf store.Workflow
		var status string
		var claimedBy, wfErr sql.NullString
		var claimedAt, leaseExpiresAt, sleepUntil sql.NullTime
		var pendingJSON string

		if err := rows.Scan(
			&wf.ID, &wf.Name, &status, &wf.Input, &wf.Output, &wfErr,
			&claimedBy, &claimedAt, &leaseExpiresAt, &sleepUntil, &pendingJSON, &wf.CreationTime,
		); err != nil {
			return nil, conductorerrors.Wrap(err, "failed to scan workflow")
		}
		wf.Status = store.Status(status)
		wf.Error = wfErr.String
		wf.ClaimedBy = claimedBy.String
		wf.ClaimedAt = scanTime(claimedAt)
		wf.LeaseExpiresAt = scanTime(leaseExpiresAt)
		wf.SleepUntil = scanTime(sleepUntil)
		result = append(result, &wf)
	}
	return result, rows.Err()
}

func (b *Backend) GetWorkflowSteps(ctx context.Context, workflowID string) ([]*store.Step, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, status, output, error, sleep_until, awaiting_signal,
			attempts, started_at, completed_at, creation_time
		FROM steps WHERE workflow_id = ? ORDER BY creation_time ASC
	`, workflowID)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "failed to list steps")
	}
	defer rows.Close()

	var result []*store.Step
	for rows.Next() {
		var st store.Step
		var status string
		var stepErr, awaitingSignal sql.NullString
		var sleepUntil, startedAt, completedAt sql.NullTime

		if err := rows.Scan(
			&st.ID, &st.WorkflowID, &st.Name, &status, &st.Output, &stepErr, &sleepUntil,
			&awaitingSignal, &st.Attempts, &startedAt, &completedAt, &st.CreationTime,
		); err != nil {
			return nil, conductorerrors.Wrap(err, "failed to scan step")
		}
		st.Status = store.Status(status)
		st.Error = stepErr.String
		st.AwaitingSignal = awaitingSignal.String
		st.SleepUntil = scanTime(sleepUntil)
		st.StartedAt = scanTime(startedAt)
		st.CompletedAt = scanTime(completedAt)
		result = append(result, &st)
	}
	return result, rows.Err()
}

// SubscribePendingWorkflows has no native push primitive in SQLite, so
// it polls at b.pollInterval. This is the latency optimization the spec
// calls out as optional; the worker's own poll timer is what provides
// correctness.
func (b *Backend) SubscribePendingWorkflows(ctx context.Context, workflowNames []string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		var lastCount int64 = -1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := b.countClaimable(ctx, workflowNames)
				if err != nil {
					continue
				}
				if count > 0 && count != lastCount {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
				lastCount = count
			}
		}
	}()
	return ch, nil
}

func (b *Backend) countClaimable(ctx context.Context, workflowNames []string) (int64, error) {
	nameFilter, nameArgs := nameClause(workflowNames)
	query := `
		SELECT COUNT(*) FROM workflows
		WHERE (status = ? OR (status = ? AND sleep_until <= ?))
	` + nameFilter
	args := append([]any{store.StatusPending, store.StatusSleeping, time.Now()}, nameArgs...)

	var count int64
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, conductorerrors.Wrap(err, "failed to count claimable workflows")
	}
	return count, nil
}

// ExpireLeaseForTest forces a claimed workflow's lease into the past.
// It exists only to let storetest.Run exercise expired-lease reclaim
// without sleeping past the real claim timeout.
func (b *Backend) ExpireLeaseForTest(ctx context.Context, workflowID string) error {
	past := time.Now().Add(-time.Minute)
	res, err := b.db.ExecContext(ctx, `UPDATE workflows SET lease_expires_at = ? WHERE id = ?`, past, workflowID)
	if err != nil {
		return conductorerrors.Wrap(err, "failed to expire lease")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &conductorerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	return nil
}
