package data

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DevRickLin/chat-digest/internal/biz/repo"
	"github.com/DevRickLin/chat-digest/internal/infra/feishu"
	"github.com/DevRickLin/chat-digest/internal/infra/openai"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Repositories contains all repositories
type Repositories struct {
	DB         *sql.DB
	Chat       repo.ChatRepo
	Message    repo.MessageRepo
	Run        repo.RunRepo
	Report     repo.ReportRepo
	Filter     repo.FilterRepo
	Platform   repo.PlatformRepo
	Notifier   repo.NotifierRepo
	Summarizer repo.SummarizerRepo
}

// NewRepositories opens the database and creates all repositories.
// Platform and summarizer clients are optional; query-only commands run without them.
func NewRepositories(dbPath string, feishuClient *feishu.Client, llmClient *openai.Client) (*Repositories, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{
		DB:      db,
		Chat:    NewChatRepo(db),
		Message: NewMessageRepo(db),
		Run:     NewRunRepo(db),
		Report:  NewReportRepo(db),
		Filter:  NewFilterRepo(db),
	}
	if feishuClient != nil {
		repos.Platform = NewFeishuRepo(feishuClient)
		repos.Notifier = NewFeishuNotifier(feishuClient)
	}
	if llmClient != nil {
		repos.Summarizer = NewOpenAIRepo(llmClient)
	}
	return repos, nil
}

// Close closes the underlying database
func (r *Repositories) Close() error {
	return r.DB.Close()
}

// OpenDB opens (creating if needed) the SQLite database and applies the schema
func OpenDB(dbPath string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers inside the process; the immediate
	// transaction lock covers other processes.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	chat_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'group',
	is_work INTEGER NOT NULL DEFAULT 0,
	last_seen_message_id TEXT NOT NULL DEFAULT '',
	last_seen_at INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	inactive_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL REFERENCES chats(chat_id),
	platform_message_id TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL,
	is_business INTEGER NOT NULL DEFAULT 0,
	raw_json TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(chat_id, platform_message_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	ran_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	closed_at INTEGER NOT NULL DEFAULT 0,
	owner TEXT NOT NULL DEFAULT '',
	lease_until INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_chat_outcomes (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	chat_id TEXT NOT NULL REFERENCES chats(chat_id),
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, chat_id)
);

CREATE TABLE IF NOT EXISTS reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	chat_id TEXT NOT NULL REFERENCES chats(chat_id),
	summary TEXT NOT NULL,
	risks TEXT NOT NULL,
	actions TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, chat_id)
);

CREATE TABLE IF NOT EXISTS filters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(kind, value)
);

CREATE TABLE IF NOT EXISTS pipeline_state (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, ts);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);
CREATE INDEX IF NOT EXISTS idx_messages_is_business ON messages(is_business);
CREATE INDEX IF NOT EXISTS idx_chats_is_work ON chats(is_work);
CREATE INDEX IF NOT EXISTS idx_chats_active ON chats(active);
CREATE INDEX IF NOT EXISTS idx_runs_window ON runs(window_start, window_end);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_reports_run_id ON reports(run_id);
CREATE INDEX IF NOT EXISTS idx_reports_chat_id ON reports(chat_id);
CREATE INDEX IF NOT EXISTS idx_filters_kind ON filters(kind);
`

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	// Databases created before run leases; errors mean the column exists
	_, _ = db.Exec(`ALTER TABLE runs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE runs ADD COLUMN lease_until INTEGER NOT NULL DEFAULT 0`)
	return nil
}

const stateLastClosedWindowEnd = "last_closed_window_end"

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
