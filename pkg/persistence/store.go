// Package persistence provides SQLite-backed storage for runs and their
// conversation transcripts.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Store wraps a SQLite database holding runs and messages.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// RunRecord is a persisted run row.
type RunRecord struct {
	StartedAt time.Time
	EndedAt   sql.NullTime
	ID        string
	Task      string
	State     string
	Reason    string
	Turns     int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	state TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	turns INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	sender TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_call TEXT,
	tool_result TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id);
`

// Open opens (or creates) the store at dbPath. Use ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("database ready: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// CreateRun inserts a new run in the given state.
func (s *Store) CreateRun(ctx context.Context, runID, task, state string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task, state, started_at) VALUES (?, ?, ?, ?)`,
		runID, task, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records the terminal state, reason, and turn count of a run.
func (s *Store) FinishRun(ctx context.Context, runID, state, reason string, turns int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, reason = ?, turns = ?, ended_at = ? WHERE id = ?`,
		state, reason, turns, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// AppendMessage persists one conversation message.
func (s *Store) AppendMessage(ctx context.Context, runID string, msg *proto.Message) error {
	var toolCall, toolResult []byte
	var err error
	if msg.ToolCall != nil {
		if toolCall, err = json.Marshal(msg.ToolCall); err != nil {
			return fmt.Errorf("failed to marshal tool call: %w", err)
		}
	}
	if msg.ToolResult != nil {
		if toolResult, err = json.Marshal(msg.ToolResult); err != nil {
			return fmt.Errorf("failed to marshal tool result: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (run_id, seq, sender, role, content, tool_call, tool_result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, msg.Seq, string(msg.Sender), string(msg.Role), msg.Content,
		nullable(toolCall), nullable(toolResult), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append message %d to run %s: %w", msg.Seq, runID, err)
	}
	return nil
}

// LoadMessages returns all messages for a run in sequence order.
func (s *Store) LoadMessages(ctx context.Context, runID string) ([]proto.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, sender, role, content, tool_call, tool_result, created_at
		 FROM messages WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []proto.Message
	for rows.Next() {
		var msg proto.Message
		var sender, role string
		var toolCall, toolResult sql.NullString
		if err := rows.Scan(&msg.Seq, &sender, &role, &msg.Content, &toolCall, &toolResult, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = proto.AgentID(sender)
		msg.Role = proto.Role(role)
		if toolCall.Valid {
			var tc proto.ToolInvocation
			if err := json.Unmarshal([]byte(toolCall.String), &tc); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool call: %w", err)
			}
			msg.ToolCall = &tc
		}
		if toolResult.Valid {
			var tr proto.ToolResult
			if err := json.Unmarshal([]byte(toolResult.String), &tr); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool result: %w", err)
			}
			msg.ToolResult = &tr
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating messages: %w", err)
	}
	return messages, nil
}

// GetRun loads a run row.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task, state, reason, turns, started_at, ended_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&rec.ID, &rec.Task, &rec.State, &rec.Reason, &rec.Turns, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &rec, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
