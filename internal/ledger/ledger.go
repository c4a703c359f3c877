package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// InMemory is the path that opens a private in-memory database.
const InMemory = ":memory:"

// Invocation is one run of a buildgrid command.
type Invocation struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Outcome    string
}

// FetchRecord is one external fetched during an invocation.
type FetchRecord struct {
	External string
	Kind     string
	Digest   string
	Verified bool
	Cached   bool
	At       time.Time
}

// ActionRecord maps an action key to the output it produced.
type ActionRecord struct {
	Key          string
	Label        string
	Kind         string
	OutputPath   string
	OutputDigest string
	// Extra lists further files the action wrote beside its output. A cache
	// hit requires every one of them to be intact.
	Extra []ActionFile
	At    time.Time
}

// ActionFile is one file produced by an action, with its sha256.
type ActionFile struct {
	Path   string
	Digest string
}

// Ledger is a SQLite-backed history and action cache.
type Ledger struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the ledger at path. Use InMemory for tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		outcome TEXT NOT NULL DEFAULT 'running'
	);
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invocation_id TEXT NOT NULL,
		external TEXT NOT NULL,
		kind TEXT NOT NULL,
		digest TEXT NOT NULL,
		verified INTEGER NOT NULL,
		cached INTEGER NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetches_invocation ON fetches(invocation_id);
	CREATE TABLE IF NOT EXISTS actions (
		action_key TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		kind TEXT NOT NULL,
		output_path TEXT NOT NULL,
		output_digest TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS action_files (
		action_key TEXT NOT NULL,
		path TEXT NOT NULL,
		digest TEXT NOT NULL,
		PRIMARY KEY (action_key, path)
	);
	`
	_, err := l.db.Exec(schema)
	return err
}

// StartInvocation records the start of a command and returns its ID.
func (l *Ledger) StartInvocation(ctx context.Context, command string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO invocations (id, command, started_at) VALUES (?, ?, ?)",
		id, command, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert invocation: %w", err)
	}
	return id, nil
}

// FinishInvocation stores the outcome of a command.
func (l *Ledger) FinishInvocation(ctx context.Context, id, outcome string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		"UPDATE invocations SET finished_at = ?, outcome = ? WHERE id = ?",
		time.Now().UnixMilli(), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("update invocation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	return nil
}

// Invocation loads a single invocation.
func (l *Ledger) Invocation(ctx context.Context, id string) (*Invocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		inv      Invocation
		started  int64
		finished sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT id, command, started_at, finished_at, outcome FROM invocations WHERE id = ?", id,
	).Scan(&inv.ID, &inv.Command, &started, &finished, &inv.Outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invocation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query invocation: %w", err)
	}
	inv.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		inv.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return &inv, nil
}

// RecordFetch appends a fetch result to an invocation.
func (l *Ledger) RecordFetch(ctx context.Context, invocationID string, rec FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO fetches (invocation_id, external, kind, digest, verified, cached, at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		invocationID, rec.External, rec.Kind, rec.Digest, rec.Verified, rec.Cached, rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert fetch: %w", err)
	}
	return nil
}

// Fetches returns the fetches of an invocation in the order they were recorded.
func (l *Ledger) Fetches(ctx context.Context, invocationID string) ([]FetchRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx,
		"SELECT external, kind, digest, verified, cached, at FROM fetches WHERE invocation_id = ? ORDER BY id",
		invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	var out []FetchRecord
	for rows.Next() {
		var (
			rec FetchRecord
			at  int64
		)
		if err := rows.Scan(&rec.External, &rec.Kind, &rec.Digest, &rec.Verified, &rec.Cached, &at); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		rec.At = time.UnixMilli(at)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// RecordAction stores (or replaces) the output of an action.
func (l *Ledger) RecordAction(ctx context.Context, rec ActionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO actions (action_key, label, kind, output_path, output_digest, at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_key) DO UPDATE SET label = excluded.label, kind = excluded.kind,
			output_path = excluded.output_path, output_digest = excluded.output_digest, at = excluded.at`,
		rec.Key, rec.Label, rec.Kind, rec.OutputPath, rec.OutputDigest, rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert action: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM action_files WHERE action_key = ?", rec.Key); err != nil {
		return fmt.Errorf("clear action files: %w", err)
	}
	for _, f := range rec.Extra {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO action_files (action_key, path, digest) VALUES (?, ?, ?)", rec.Key, f.Path, f.Digest,
		); err != nil {
			return fmt.Errorf("insert action file: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit action: %w", err)
	}
	return nil
}

// LookupAction returns the recorded output for key, or ErrNotFound.
func (l *Ledger) LookupAction(ctx context.Context, key string) (*ActionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		rec ActionRecord
		at  int64
	)
	err := l.db.QueryRowContext(ctx,
		"SELECT action_key, label, kind, output_path, output_digest, at FROM actions WHERE action_key = ?", key,
	).Scan(&rec.Key, &rec.Label, &rec.Kind, &rec.OutputPath, &rec.OutputDigest, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query action: %w", err)
	}
	rec.At = time.UnixMilli(at)

	rows, err := l.db.QueryContext(ctx, "SELECT path, digest FROM action_files WHERE action_key = ? ORDER BY path", key)
	if err != nil {
		return nil, fmt.Errorf("query action files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f ActionFile
		if err := rows.Scan(&f.Path, &f.Digest); err != nil {
			return nil, fmt.Errorf("scan action file: %w", err)
		}
		rec.Extra = append(rec.Extra, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return &rec, nil
}

// ForgetAction removes a cached action, used when its output went missing.
func (l *Ledger) ForgetAction(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx, "DELETE FROM action_files WHERE action_key = ?", key); err != nil {
		return fmt.Errorf("delete action files: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, "DELETE FROM actions WHERE action_key = ?", key); err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
