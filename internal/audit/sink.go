package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Sink records tool invocation entries. RecordStart failures must be
// tolerated by callers: the executor proceeds with PlaceholderID.
type Sink interface {
	// RecordStart persists a new entry with StatusStarted and returns its id.
	RecordStart(ctx context.Context, entry *Entry) (string, error)

	// RecordFinish transitions an entry to a terminal status. Unknown or
	// placeholder ids are ignored.
	RecordFinish(ctx context.Context, id string, entry *Entry) error
}

// NopSink discards all entries. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) RecordStart(ctx context.Context, entry *Entry) (string, error) {
	return uuid.NewString(), nil
}

func (NopSink) RecordFinish(ctx context.Context, id string, entry *Entry) error {
	return nil
}

// MemorySink keeps entries in memory for tests and development.
type MemorySink struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string

	// FailStart forces RecordStart to fail, for exercising degraded paths.
	FailStart bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[string]*Entry)}
}

func (s *MemorySink) RecordStart(ctx context.Context, entry *Entry) (string, error) {
	if s.FailStart {
		return "", fmt.Errorf("audit sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	cp := *entry
	cp.ID = id
	cp.Status = StatusStarted
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.entries[id] = &cp
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemorySink) RecordFinish(ctx context.Context, id string, entry *Entry) error {
	if id == "" || id == PlaceholderID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("audit entry not found: %s", id)
	}
	existing.Status = entry.Status
	existing.Result = entry.Result
	existing.Error = entry.Error
	existing.DurationMS = entry.DurationMS
	existing.UpdatedAt = time.Now()
	return nil
}

// Entries returns recorded entries in insertion order.
func (s *MemorySink) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.entries[id]
		out = append(out, &cp)
	}
	return out
}

// SQLiteSink persists audit entries in a SQLite table. Writes are
// independent rows keyed by a fresh id per call, so concurrent requests
// never contend on shared entries.
type SQLiteSink struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteSink opens the audit database and runs migrations.
func NewSQLiteSink(cfg Config) (*SQLiteSink, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	s := &SQLiteSink{db: db, cfg: cfg}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			error TEXT,
			duration_ms INTEGER,
			org_id TEXT,
			session_id TEXT,
			user_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_log(tool_name);
		CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_log(org_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) RecordStart(ctx context.Context, entry *Entry) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	args := entry.Args
	if !s.cfg.IncludeArgs {
		args = nil
	}
	args = clipField(args, s.cfg.MaxFieldSize)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tool_name, status, args, org_id, session_id, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, entry.ToolName, StatusStarted, nullableString(args),
		entry.OrgID, entry.SessionID, entry.UserID, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to record audit start: %w", err)
	}
	return id, nil
}

func (s *SQLiteSink) RecordFinish(ctx context.Context, id string, entry *Entry) error {
	if id == "" || id == PlaceholderID {
		return nil
	}
	result := clipField(entry.Result, s.cfg.MaxFieldSize)
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_log SET status = ?, result = ?, error = ?, duration_ms = ?, updated_at = ?
		 WHERE id = ?`,
		entry.Status, nullableString(result), entry.Error, entry.DurationMS,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record audit finish: %w", err)
	}
	return nil
}

func clipField(payload []byte, max int) []byte {
	if max <= 0 || len(payload) <= max {
		return payload
	}
	return payload[:max]
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
