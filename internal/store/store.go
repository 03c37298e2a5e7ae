// Package store provides the single-file embedded relational store
// backing the daemon: five tables (logs, iptables, iptables_logs,
// hq_information, hq_information_to_report), all access serialized
// through one mutex. Schema is created on open; there are no external
// migrations.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/adator85/interceptor/internal/errs"
	"github.com/adator85/interceptor/internal/logging"
)

// Store is the daemon's embedded relational store. Each Exec/Query/
// QueryRow call is independently serialized through one mutex, scoped to
// that single statement; the lock is not held across calls into the
// Firewall Gateway. Callers that need a jail decision made on a
// consistent view of recent offenses (internal/jail) compose several
// short Store calls rather than asking the Store to hold its lock open
// across a firewall round trip.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *logging.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	createdOn TEXT,
	intrusion_service_id TEXT,
	intrusion_detail TEXT,
	module_name TEXT,
	ip_address TEXT,
	keyword TEXT,
	user TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_module_ip ON logs(module_name, ip_address);
CREATE INDEX IF NOT EXISTS idx_logs_createdOn ON logs(createdOn);

CREATE TABLE IF NOT EXISTS iptables (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	createdOn TEXT,
	module_name TEXT,
	ip_address TEXT UNIQUE,
	duration INTEGER
);

CREATE TABLE IF NOT EXISTS iptables_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	createdOn TEXT,
	module_name TEXT,
	ip_address TEXT,
	duration INTEGER
);

CREATE TABLE IF NOT EXISTS hq_information (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	createdOn TEXT,
	updatedOn TEXT,
	ip_address TEXT UNIQUE,
	ab_score INTEGER,
	hq_totalReports INTEGER
);

CREATE TABLE IF NOT EXISTS hq_information_to_report (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	createdOn TEXT,
	id_log INTEGER
);
`

// Open opens (creating if absent) the store at path and ensures the
// schema exists. Use ":memory:" for an ephemeral, test-only database.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("store")

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("%w: create db directory: %v", errs.ErrStoreUnavailable, err)
			}
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrStoreUnavailable, path, err)
	}
	db.SetMaxOpenConns(1) // sqlite allows one writer; serialize at the driver too.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", errs.ErrStoreUnavailable, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exec runs a write query under the store lock and returns rows affected
// and the last insert id (0 if the statement does not insert a row).
func (s *Store) Exec(query string, args ...any) (rowsAffected int64, lastInsertID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		if isBusy(err) {
			return 0, 0, fmt.Errorf("%w: %v", errs.ErrStoreBusy, err)
		}
		return 0, 0, err
	}

	rowsAffected, _ = res.RowsAffected()
	lastInsertID, _ = res.LastInsertId()
	return rowsAffected, lastInsertID, nil
}

// Query runs a read query under the store lock. The lock is released when
// Query returns, but the returned *sql.Rows keeps the store's single
// database connection busy until rows.Close or full iteration, so it
// must be closed by the caller before the next Store call — callers in
// this codebase always fully drain and close rows before returning.
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("%w: %v", errs.ErrStoreBusy, err)
		}
		return nil, err
	}
	return rows, nil
}

// QueryRow runs a single-row read query under the store lock.
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.QueryRow(query, args...)
}

func isBusy(err error) bool {
	return err != nil && (errors.Is(err, sql.ErrTxDone) || containsBusy(err.Error()))
}

func containsBusy(msg string) bool {
	for _, needle := range []string{"database is locked", "SQLITE_BUSY", "busy"} {
		if len(msg) >= len(needle) && indexOf(msg, needle) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(haystack, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if haystack[i:i+n] == needle {
			return i
		}
	}
	return -1
}
