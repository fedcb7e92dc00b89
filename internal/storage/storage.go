// Package storage implements the permanent SQLite-backed log named in §6:
// an append-only history of camera events plus a secondary
// upsert-by-id table per event kind, serving serverfsm.Storage. The
// driver (mattn/go-sqlite3) is pulled from the wider corpus's
// SQLite-via-driver stack rather than any one teacher file, since none of
// the example repos touch database/sql directly.
package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is a SQLite-backed implementation of serverfsm.Storage. Every
// table it knows about shares the same (id TEXT PRIMARY KEY, data TEXT,
// recorded_at INTEGER) schema from §6 — "(id TEXT PK, data TEXT)" plus a
// timestamp for operator-UI history views.
type Store struct {
	db *sql.DB
}

// knownTables is the fixed set of per-event-kind tables §6 and §4.4's
// camera handling table name. Open creates any that don't already exist.
var knownTables = []string{
	"heat_starts",
	"heat_finishes",
	"heat_intermediates",
	"heat_false_starts",
	"heat_start_lists",
	"heat_results",
	"permanent_storage",
}

// Open opens (creating if absent) the SQLite database at path and ensures
// every known table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: opening database")
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid "database is locked"

	s := &Store{db: db}
	for _, table := range knownTables {
		if err := s.ensureTable(table); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ensureTable(table string) error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS "` + table + `" (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	)`)
	if err != nil {
		return errors.Wrapf(err, "storage: creating table %q", table)
	}
	return nil
}

// AppendAndUpsert writes (id, data) into table, inserting a fresh row or
// replacing the existing row for id — §3's "eventual consistency" latitude:
// a crash between the append and a corresponding permanent_storage write
// is acceptable, each table is independently upserted rather than
// committed as one cross-table transaction.
func (s *Store) AppendAndUpsert(table, id string, data []byte) error {
	if !isKnownTable(table) {
		return errors.Errorf("storage: unknown table %q", table)
	}
	_, err := s.db.Exec(
		`INSERT INTO "`+table+`" (id, data, recorded_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, recorded_at = excluded.recorded_at`,
		id, string(data), time.Now().Unix(),
	)
	if err != nil {
		return errors.Wrapf(err, "storage: upserting into %q", table)
	}
	return nil
}

// Get returns the raw data stored for id in table, or sql.ErrNoRows if
// absent.
func (s *Store) Get(table, id string) ([]byte, error) {
	if !isKnownTable(table) {
		return nil, errors.Errorf("storage: unknown table %q", table)
	}
	var data string
	err := s.db.QueryRow(`SELECT data FROM "`+table+`" WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isKnownTable(table string) bool {
	for _, t := range knownTables {
		if t == table {
			return true
		}
	}
	return false
}
