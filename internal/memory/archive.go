package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kestrel/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Archive persists finished session transcripts and the audit trail of
// permission decisions and tool executions. In-flight conversation state
// lives in Session; the archive only sees committed turns.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

func OpenArchive(dbPath string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create archive directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open archive: %w", err)
	}

	// Single connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db, logger: logger}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migration failed: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		agent       TEXT,
		title       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT,
		tool_calls   TEXT,
		tool_call_id TEXT,
		tool_name    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		tool        TEXT,
		action      TEXT NOT NULL,
		detail      TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SessionInfo summarizes one archived session.
type SessionInfo struct {
	ID        string
	Agent     string
	Title     string
	CreatedAt time.Time
	Turns     int
}

// SaveSession archives a transcript and returns the new session id. An
// empty title is derived from the first user turn.
func (a *Archive) SaveSession(ctx context.Context, agent, title string, turns []domain.Message) (string, error) {
	if title == "" {
		title = deriveTitle(turns)
	}
	id := uuid.NewString()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, agent, title, created_at) VALUES (?, ?, ?, ?)`,
		id, agent, title, time.Now(),
	); err != nil {
		return "", err
	}

	for seq, msg := range turns {
		var toolCalls string
		if len(msg.ToolCalls) > 0 {
			b, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return "", fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, role, content, tool_calls, tool_call_id, tool_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, seq, msg.Role, msg.Content, toolCalls, msg.ToolCallID, msg.ToolName,
		); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	a.logger.Info("session archived", "id", id, "agent", agent, "turns", len(turns))
	return id, nil
}

// LoadSession returns an archived transcript in turn order.
func (a *Archive) LoadSession(ctx context.Context, id string) ([]domain.Message, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name
		 FROM turns WHERE session_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, err
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				a.logger.Warn("cannot decode archived tool calls", "session", id, "err", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSessions returns the newest sessions first.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT s.id, s.agent, s.title, s.created_at, COUNT(t.id)
		 FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		 GROUP BY s.id ORDER BY s.created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Agent, &info.Title, &info.CreatedAt, &info.Turns); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// LogAudit appends one audit row.
func (a *Archive) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (tool, action, detail) VALUES (?, ?, ?)`,
		entry.Tool, entry.Action, entry.Detail,
	)
	return err
}

// RecentAudit returns the newest audit rows, formatted one per line.
func (a *Archive) RecentAudit(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT tool, action, detail, created_at FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var tool, action, detail string
		var at time.Time
		if err := rows.Scan(&tool, &action, &detail, &at); err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("%s  %-14s %-12s %s", at.Format(time.RFC3339), action, tool, detail))
	}
	return lines, rows.Err()
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func deriveTitle(turns []domain.Message) string {
	for _, m := range turns {
		if m.Role != "user" {
			continue
		}
		title := strings.TrimSpace(m.Content)
		title = strings.ReplaceAll(title, "\n", " ")
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		if title != "" {
			return title
		}
	}
	return "untitled session"
}

var _ domain.AuditLogger = (*Archive)(nil)
