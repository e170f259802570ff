// Package journal records the outcome of every tool call in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"monetrix/internal/domain"
)

// Outcomes stored per call.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Entry is one recorded tool call.
type Entry struct {
	ID         int64                `json:"id"`
	Time       time.Time            `json:"time"`
	SessionID  string               `json:"session_id,omitempty"`
	Tool       domain.ToolName      `json:"tool"`
	CallID     string               `json:"call_id"`
	Outcome    string               `json:"outcome"`
	Status     int                  `json:"status,omitempty"`
	Category   domain.ErrorCategory `json:"category,omitempty"`
	DurationMs int64                `json:"duration_ms"`
}

// Counts aggregates the journal.
type Counts struct {
	Total     int64            `json:"total"`
	OK        int64            `json:"ok"`
	Errors    int64            `json:"errors"`
	Skipped   int64            `json:"skipped"`
	ByTool    map[string]int64 `json:"by_tool"`
	ByOutcome map[string]int64 `json:"-"`
}

// Store is a SQLite-backed tool-call journal.
type Store struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Open opens (or creates) the journal at path and runs the schema migration.
// retention bounds Prune; zero keeps everything.
func Open(path string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// One writer; modernc serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &Store{db: db, retention: retention, logger: logger, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_calls (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          INTEGER NOT NULL,
			session_id  TEXT NOT NULL DEFAULT '',
			tool        TEXT NOT NULL,
			call_id     TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			status      INTEGER NOT NULL DEFAULT 0,
			category    TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_ts ON tool_calls(ts);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (ts, session_id, tool, call_id, outcome, status, category, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().UnixMilli(), e.SessionID, string(e.Tool), e.CallID, e.Outcome,
		e.Status, string(e.Category), e.DurationMs,
	)
	if err != nil {
		return domain.NewSubSystemError("journal", "Store.Record", domain.ErrJournalWrite, err.Error())
	}
	return nil
}

// Subscribe records finished tool calls published on bus. The returned
// function unsubscribes.
func (s *Store) Subscribe(bus domain.EventBus) func() {
	unsubs := []func(){
		bus.Subscribe(domain.EventToolCallCompleted, s.HandleEvent),
		bus.Subscribe(domain.EventToolCallFailed, s.HandleEvent),
		bus.Subscribe(domain.EventToolCallSkipped, s.HandleEvent),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleEvent converts a tool.call.* event into an entry. Other events and
// undecodable payloads are ignored.
func (s *Store) HandleEvent(ctx context.Context, ev domain.Event) {
	var outcome string
	switch ev.Type {
	case domain.EventToolCallCompleted:
		outcome = OutcomeOK
	case domain.EventToolCallFailed:
		outcome = OutcomeError
	case domain.EventToolCallSkipped:
		outcome = OutcomeSkipped
	default:
		return
	}

	var p domain.ToolCallEventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		s.logger.Warn("journal: bad tool event payload", "type", string(ev.Type), "error", err)
		return
	}
	err := s.Record(ctx, Entry{
		Time:       ev.Timestamp,
		SessionID:  ev.SessionID,
		Tool:       p.Tool,
		CallID:     p.CallID,
		Outcome:    outcome,
		Status:     p.Status,
		Category:   p.Category,
		DurationMs: p.DurationMs,
	})
	if err != nil {
		s.logger.Warn("journal write failed", "call_id", p.CallID, "error", err)
	}
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, session_id, tool, call_id, outcome, status, category, duration_ms
		 FROM tool_calls ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			tool     string
			category string
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &tool, &e.CallID, &e.Outcome, &e.Status, &category, &e.DurationMs); err != nil {
			return nil, err
		}
		e.Time = time.UnixMilli(ts).UTC()
		e.Tool = domain.ToolName(tool)
		e.Category = domain.ErrorCategory(category)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts aggregates entries by outcome and tool.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	c := Counts{ByTool: map[string]int64{}, ByOutcome: map[string]int64{}}

	rows, err := s.db.QueryContext(ctx, `SELECT tool, outcome, COUNT(*) FROM tool_calls GROUP BY tool, outcome`)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var tool, outcome string
		var n int64
		if err := rows.Scan(&tool, &outcome, &n); err != nil {
			return c, err
		}
		c.Total += n
		c.ByTool[tool] += n
		c.ByOutcome[outcome] += n
	}
	c.OK = c.ByOutcome[OutcomeOK]
	c.Errors = c.ByOutcome[OutcomeError]
	c.Skipped = c.ByOutcome[OutcomeSkipped]
	return c, rows.Err()
}

// Prune deletes entries older than the retention window and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention).UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM tool_calls WHERE ts < ?", cutoff)
	if err != nil {
		return 0, domain.NewSubSystemError("journal", "Store.Prune", domain.ErrJournalWrite, err.Error())
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("journal pruned", "deleted", n, "retention", s.retention)
	}
	return n, nil
}
