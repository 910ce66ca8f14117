package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Repository is the durable operation and timer store. It is the single
// source of truth for crash recovery: executors consult it before every
// external side effect and record each completed step through it.
type Repository struct {
	db           *sql.DB
	historyLimit int
}

// NewRepository opens (or creates) the sqlite database at dbPath.
func NewRepository(dbPath string, historyLimit int) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Serialize writers; sqlite allows a single writer at a time and the
	// executors may checkpoint steps from concurrent goroutines.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db, historyLimit: historyLimit}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS operations (
			guild_id VARCHAR(20) PRIMARY KEY,
			op_type VARCHAR(16) NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			completed INTEGER NOT NULL DEFAULT 0,
			start_time TIMESTAMP NOT NULL,
			completed_time TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS operation_steps (
			guild_id VARCHAR(20) NOT NULL,
			step_key VARCHAR(100) NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			completed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (guild_id, step_key)
		)`,
		`CREATE TABLE IF NOT EXISTS operation_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			op_type VARCHAR(16) NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			start_time TIMESTAMP NOT NULL,
			completed_time TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS timers (
			guild_id VARCHAR(20) PRIMARY KEY,
			total_minutes INTEGER NOT NULL,
			start_time TIMESTAMP NOT NULL,
			room_ids TEXT NOT NULL DEFAULT '[]',
			five_min_warning_sent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_guild ON operation_history(guild_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Operation tracking

// StartOperation records a fresh in-progress operation for the guild,
// unconditionally replacing any previous record and its steps. The caller is
// responsible for having already verified no conflicting operation exists.
func (r *Repository) StartOperation(guildID string, opType OperationType, params OperationParams) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode operation params: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM operation_steps WHERE guild_id = ?`, guildID); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO operations (guild_id, op_type, params, completed, start_time) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET op_type = excluded.op_type, params = excluded.params,
		 completed = 0, start_time = excluded.start_time, completed_time = NULL`,
		guildID, string(opType), string(paramsJSON), time.Now(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// HasOperationInProgress reports whether the guild has an active,
// not-yet-completed operation.
func (r *Repository) HasOperationInProgress(guildID string) bool {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM operations WHERE guild_id = ? AND completed = 0`,
		guildID,
	).Scan(&count)
	if err != nil {
		slog.Error("Failed to check operation progress", "guildID", guildID, "error", err)
		return false
	}
	return count > 0
}

// GetCurrentOperation returns the guild's active operation, or nil when none
// exists.
func (r *Repository) GetCurrentOperation(guildID string) (*OperationRecord, error) {
	op := &OperationRecord{GuildID: guildID, Started: true}
	var paramsJSON string
	var completedTime sql.NullTime
	err := r.db.QueryRow(
		`SELECT op_type, params, completed, start_time, completed_time FROM operations WHERE guild_id = ?`,
		guildID,
	).Scan(&op.Type, &paramsJSON, &op.Completed, &op.StartTime, &completedTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &op.Params); err != nil {
		return nil, fmt.Errorf("failed to decode operation params: %w", err)
	}
	if completedTime.Valid {
		op.CompletedTime = completedTime.Time
	}

	op.Steps, err = r.GetCompletedSteps(guildID)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// UpdateProgress upserts a completed step for the guild's active operation.
// Returns false when no operation is in progress. Calling it twice with the
// same key keeps a single entry with the latest payload.
func (r *Repository) UpdateProgress(guildID, stepKey string, payload StepRecord) bool {
	if !r.HasOperationInProgress(guildID) {
		slog.Warn("Progress update with no operation in progress", "guildID", guildID, "step", stepKey)
		return false
	}

	payload.Completed = true
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode step payload", "guildID", guildID, "step", stepKey, "error", err)
		return false
	}

	_, err = r.db.Exec(
		`INSERT INTO operation_steps (guild_id, step_key, payload, completed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(guild_id, step_key) DO UPDATE SET payload = excluded.payload, completed_at = excluded.completed_at`,
		guildID, stepKey, string(payloadJSON), payload.Timestamp,
	)
	if err != nil {
		// An operation having happened in the world matters more than
		// failing to record it; log and keep going.
		slog.Error("Failed to persist step", "guildID", guildID, "step", stepKey, "error", err)
		return false
	}
	return true
}

// GetCompletedSteps returns the step ledger for the guild's active operation,
// empty when there is none.
func (r *Repository) GetCompletedSteps(guildID string) (map[string]StepRecord, error) {
	rows, err := r.db.Query(
		`SELECT step_key, payload FROM operation_steps WHERE guild_id = ?`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make(map[string]StepRecord)
	for rows.Next() {
		var key, payloadJSON string
		if err := rows.Scan(&key, &payloadJSON); err != nil {
			return nil, err
		}
		var step StepRecord
		if err := json.Unmarshal([]byte(payloadJSON), &step); err != nil {
			return nil, fmt.Errorf("failed to decode step %s: %w", key, err)
		}
		steps[key] = step
	}

	return steps, rows.Err()
}

// CompleteOperation marks the guild's active operation finished, moves it to
// history (capped to the configured limit, oldest dropped) and clears the
// active record and its steps.
func (r *Repository) CompleteOperation(guildID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO operation_history (guild_id, op_type, params, start_time, completed_time)
		 SELECT guild_id, op_type, params, start_time, ? FROM operations WHERE guild_id = ?`,
		now, guildID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no operation in progress for guild %s", guildID)
	}

	if _, err := tx.Exec(`DELETE FROM operations WHERE guild_id = ?`, guildID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM operation_steps WHERE guild_id = ?`, guildID); err != nil {
		return err
	}

	// Cap history, newest kept
	_, err = tx.Exec(
		`DELETE FROM operation_history WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM operation_history WHERE guild_id = ? ORDER BY id DESC LIMIT ?
		)`,
		guildID, guildID, r.historyLimit,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// OperationHistory returns the guild's completed operations, newest first.
func (r *Repository) OperationHistory(guildID string) ([]*OperationRecord, error) {
	rows, err := r.db.Query(
		`SELECT op_type, params, start_time, completed_time FROM operation_history
		 WHERE guild_id = ? ORDER BY id DESC`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*OperationRecord
	for rows.Next() {
		op := &OperationRecord{GuildID: guildID, Started: true, Completed: true}
		var paramsJSON string
		if err := rows.Scan(&op.Type, &paramsJSON, &op.StartTime, &op.CompletedTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &op.Params); err != nil {
			return nil, fmt.Errorf("failed to decode operation params: %w", err)
		}
		history = append(history, op)
	}

	return history, rows.Err()
}

// Timer data — independent namespace from operations

// SetTimerData creates or replaces the guild's timer record.
func (r *Repository) SetTimerData(t *TimerRecord) error {
	roomsJSON, err := json.Marshal(t.RoomIDs)
	if err != nil {
		return fmt.Errorf("failed to encode timer rooms: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO timers (guild_id, total_minutes, start_time, room_ids, five_min_warning_sent)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET total_minutes = excluded.total_minutes,
		 start_time = excluded.start_time, room_ids = excluded.room_ids,
		 five_min_warning_sent = excluded.five_min_warning_sent`,
		t.GuildID, t.TotalMinutes, t.StartTime, string(roomsJSON), t.FiveMinWarningSent,
	)
	return err
}

// GetTimerData returns the guild's timer record, or nil when none exists.
func (r *Repository) GetTimerData(guildID string) (*TimerRecord, error) {
	t := &TimerRecord{GuildID: guildID}
	var roomsJSON string
	err := r.db.QueryRow(
		`SELECT total_minutes, start_time, room_ids, five_min_warning_sent FROM timers WHERE guild_id = ?`,
		guildID,
	).Scan(&t.TotalMinutes, &t.StartTime, &roomsJSON, &t.FiveMinWarningSent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roomsJSON), &t.RoomIDs); err != nil {
		return nil, fmt.Errorf("failed to decode timer rooms: %w", err)
	}
	return t, nil
}

// ClearTimerData removes the guild's timer record.
func (r *Repository) ClearTimerData(guildID string) error {
	_, err := r.db.Exec(`DELETE FROM timers WHERE guild_id = ?`, guildID)
	return err
}
