// Package state keeps a persistent journal of configuration transactions.
//
// Every reconcile pass that the daemon applies is recorded with its outcome,
// so operators can see when the hardware was last brought in step with the
// configuration and why a pass failed. The journal is a SQLite database in
// WAL mode, opened through the pure-Go modernc.org/sqlite driver.
package state

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"

	"grimm.is/aclsync/internal/clock"
)

// init makes datetime('now') follow clock.Now so metadata timestamps stay
// consistent with the rest of the process.
func init() {
	_ = sqlite.RegisterScalarFunction("datetime", -1, datetimeFunc)
}

// datetimeFunc implements datetime() using clock.Now()
func datetimeFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 {
		return clock.Now().UTC().Format("2006-01-02 15:04:05"), nil
	}
	if s, ok := args[0].(string); ok && strings.ToLower(s) == "now" {
		t := clock.Now().UTC()
		for _, arg := range args[1:] {
			if mod, ok := arg.(string); ok && strings.ToLower(mod) == "localtime" {
				t = t.Local()
			}
		}
		return t.Format("2006-01-02 15:04:05"), nil
	}
	return args[0], nil
}

// Common errors
var (
	ErrNotFound    = errors.New("transaction not found")
	ErrStoreClosed = errors.New("journal is closed")
)

// Txn is one recorded configuration transaction.
type Txn struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Groups     int       `json:"groups"`
	Interfaces int       `json:"interfaces"`
	Changes    int       `json:"changes"`
	HWCalls    int       `json:"hw_calls"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the transaction committed without error.
func (t Txn) OK() bool {
	return t.Error == ""
}

// Duration returns how long the transaction took.
func (t Txn) Duration() time.Duration {
	return t.Finished.Sub(t.Started)
}

// Journal is the transaction journal.
type Journal struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	subMu       sync.RWMutex
	subscribers map[uint64]chan Txn
	nextSubID   uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures the journal.
type Options struct {
	Path            string        // Database file path (":memory:" for in-memory)
	WALMode         bool          // Enable WAL mode for better concurrency
	CleanupInterval time.Duration // How often old transactions are pruned
	Retention       time.Duration // How long transactions are kept
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:            path,
		WALMode:         true,
		CleanupInterval: time.Hour,
		Retention:       30 * 24 * time.Hour,
	}
}

// Open opens or creates a journal.
func Open(opts Options) (*Journal, error) {
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma %q: %w", p, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		db:          db,
		subscribers: make(map[uint64]chan Txn),
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := j.initSchema(); err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if opts.CleanupInterval > 0 && opts.Retention > 0 {
		go j.cleanupLoop(opts.CleanupInterval, opts.Retention)
	}
	return j, nil
}

// initSchema creates the database tables.
func (j *Journal) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS txns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			started INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			groups_count INTEGER NOT NULL,
			interfaces_count INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			hw_calls INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_txns_finished ON txns(finished);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	_, err := j.db.Exec(
		"INSERT OR IGNORE INTO metadata (key, value, updated_at) VALUES ('schema_version', '1', datetime('now'))",
	)
	return err
}

func (j *Journal) cleanupLoop(interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.Prune(clock.Now().Add(-retention))
		}
	}
}

// Record stores a finished transaction and hands it to subscribers.
func (j *Journal) Record(ctx context.Context, t Txn) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrStoreClosed
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO txns (id, source, started, finished, groups_count, interfaces_count, changes, hw_calls, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Source, t.Started.UnixNano(), t.Finished.UnixNano(),
		t.Groups, t.Interfaces, t.Changes, t.HWCalls, t.Error)
	if err != nil {
		return fmt.Errorf("failed to record transaction %s: %w", t.ID, err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO metadata (key, value, updated_at) VALUES ('last_txn', ?, datetime('now'))", t.ID)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	j.notifySubscribers(t)
	return nil
}

const txnColumns = "id, source, started, finished, groups_count, interfaces_count, changes, hw_calls, error"

type scanner interface {
	Scan(dest ...any) error
}

func scanTxn(row scanner) (Txn, error) {
	var t Txn
	var started, finished int64
	err := row.Scan(&t.ID, &t.Source, &started, &finished,
		&t.Groups, &t.Interfaces, &t.Changes, &t.HWCalls, &t.Error)
	if err != nil {
		return Txn{}, err
	}
	t.Started = time.Unix(0, started)
	t.Finished = time.Unix(0, finished)
	return t, nil
}

// Get returns one transaction by ID.
func (j *Journal) Get(ctx context.Context, id string) (Txn, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return Txn{}, ErrStoreClosed
	}
	t, err := scanTxn(j.db.QueryRowContext(ctx, "SELECT "+txnColumns+" FROM txns WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Txn{}, ErrNotFound
	}
	return t, err
}

// Last returns the most recent transaction.
func (j *Journal) Last(ctx context.Context) (Txn, error) {
	txns, err := j.List(ctx, 1)
	if err != nil {
		return Txn{}, err
	}
	if len(txns) == 0 {
		return Txn{}, ErrNotFound
	}
	return txns[0], nil
}

// List returns up to limit transactions, newest first. A limit of zero or
// less returns all of them.
func (j *Journal) List(ctx context.Context, limit int) ([]Txn, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, "SELECT "+txnColumns+" FROM txns ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []Txn{}
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// Prune deletes transactions that finished before cutoff and reports how
// many went.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrStoreClosed
	}
	res, err := j.db.Exec("DELETE FROM txns WHERE finished < ?", cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Metadata returns a metadata value.
func (j *Journal) Metadata(key string) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return "", ErrStoreClosed
	}
	var v sql.NullString
	err := j.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v.String, err
}

func (j *Journal) notifySubscribers(t Txn) {
	j.subMu.RLock()
	defer j.subMu.RUnlock()

	for _, ch := range j.subscribers {
		select {
		case ch <- t:
		default:
			// Subscriber is slow, skip
		}
	}
}

// Subscribe returns a channel that receives every recorded transaction
// until ctx is done or the journal closes.
func (j *Journal) Subscribe(ctx context.Context) <-chan Txn {
	j.subMu.Lock()
	id := j.nextSubID
	j.nextSubID++
	ch := make(chan Txn, 16)
	j.subscribers[id] = ch
	j.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-j.ctx.Done():
		}
		j.subMu.Lock()
		defer j.subMu.Unlock()
		// Only close if the channel is still registered (prevents double-close)
		if _, exists := j.subscribers[id]; exists {
			delete(j.subscribers, id)
			close(ch)
		}
	}()

	return ch
}

// Close closes the journal and every subscriber channel.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.cancel()

	j.subMu.Lock()
	for id, ch := range j.subscribers {
		close(ch)
		delete(j.subscribers, id)
	}
	j.subMu.Unlock()

	return j.db.Close()
}
