// Package store provides SQLite-backed persistence for the message log,
// task results and decision records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 100

// Store provides access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		timestamp DATETIME NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		message_type TEXT NOT NULL,
		priority INTEGER NOT NULL,
		payload TEXT NOT NULL,
		requires_response INTEGER NOT NULL,
		response_timeout_seconds INTEGER NOT NULL,
		metadata TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		data TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
	CREATE INDEX IF NOT EXISTS idx_task_results_task_id ON task_results(task_id);
	CREATE INDEX IF NOT EXISTS idx_pdr_task_id ON pdr(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Message Operations ---

// RecordMessage appends a published message to the log.
func (s *Store) RecordMessage(msg models.Message) error {
	payload, err := marshalMap(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	metadata, err := marshalMap(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (message_id, timestamp, sender, recipient, message_type, priority, payload, requires_response, response_timeout_seconds, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Timestamp.UTC(), msg.Sender, msg.Recipient, string(msg.Type), int(msg.Priority),
		payload, msg.RequiresResponse, msg.ResponseTimeoutSeconds, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(id string) (*models.Message, error) {
	row := s.db.QueryRow(
		`SELECT message_id, timestamp, sender, recipient, message_type, priority, payload, requires_response, response_timeout_seconds, metadata
		 FROM messages WHERE message_id = ?`, id,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the most recent messages in publish order. agent
// matches sender or recipient; empty filters match everything.
func (s *Store) ListMessages(agent string, msgType models.MessageType, limit int) ([]models.Message, error) {
	var where []string
	var args []any
	if agent != "" {
		where = append(where, "(sender = ? OR recipient = ?)")
		args = append(args, agent, agent)
	}
	if msgType != "" {
		where = append(where, "message_type = ?")
		args = append(args, string(msgType))
	}

	query := `SELECT message_id, timestamp, sender, recipient, message_type, priority, payload, requires_response, response_timeout_seconds, metadata FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*models.Message, error) {
	var msg models.Message
	var msgType, payload, metadata string
	var priority int
	if err := sc.Scan(&msg.ID, &msg.Timestamp, &msg.Sender, &msg.Recipient, &msgType, &priority,
		&payload, &msg.RequiresResponse, &msg.ResponseTimeoutSeconds, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Type = models.MessageType(msgType)
	msg.Priority = models.Priority(priority)
	if err := json.Unmarshal([]byte(payload), &msg.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", msg.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", msg.ID, err)
	}
	return &msg, nil
}

// --- Result Operations ---

// RecordResult stores a task result.
func (s *Store) RecordResult(res models.TaskResult) error {
	data, err := marshalMap(res.Data)
	if err != nil {
		return fmt.Errorf("encode result data: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO task_results (id, task_id, agent, action, status, output, data, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), res.TaskID, res.Agent, res.Action, string(res.Status),
		res.Output, data, res.Error, res.StartedAt.UTC(), res.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task result: %w", err)
	}
	return nil
}

// ListResults returns results newest first, optionally for one task id.
func (s *Store) ListResults(taskID string, limit int) ([]models.TaskResult, error) {
	query := `SELECT task_id, agent, action, status, output, data, error, started_at, finished_at FROM task_results`
	var args []any
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY finished_at DESC, rowid DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	var results []models.TaskResult
	for rows.Next() {
		var res models.TaskResult
		var status, data string
		var output, errText sql.NullString
		if err := rows.Scan(&res.TaskID, &res.Agent, &res.Action, &status, &output, &data, &errText, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		res.Status = models.ResultStatus(status)
		res.Output = output.String
		res.Error = errText.String
		if err := json.Unmarshal([]byte(data), &res.Data); err != nil {
			return nil, fmt.Errorf("decode result data: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, taskID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns decision records newest first.
func (s *Store) ListPDR(limit int) ([]models.PDREntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var taskID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &taskID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TaskID = taskID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
