// Package registry implements the persistent supplement to the Router's
// in-memory route table: a small sqlite mirror of RemoteCluster terminals
// that gives a restarted node a warm, if unverified, terminal list
// instead of waiting out a full discovery cycle.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cell/internal/router"
)

// Store is a sqlite-backed mirror of every RemoteCluster's terminals,
// keyed by (cell name, terminal ID).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the registry database at path,
// applying WAL-mode and busy-timeout pragmas and creating the table if
// it does not exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS terminals (
	cell_name   TEXT NOT NULL,
	terminal_id TEXT NOT NULL,
	ip          TEXT NOT NULL,
	port        INTEGER NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (cell_name, terminal_id)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert records cellName's terminal t, overwriting any previous entry
// for the same (cellName, t.ID).
func (s *Store) Upsert(cellName string, t router.Terminal) error {
	_, err := s.db.Exec(
		`INSERT INTO terminals (cell_name, terminal_id, ip, port, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cell_name, terminal_id) DO UPDATE SET
		 ip = excluded.ip,
		 port = excluded.port,
		 updated_at = excluded.updated_at`,
		cellName, t.ID, t.IP, t.Port, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("registry: upsert terminal %s/%s: %w", cellName, t.ID, err)
	}
	return nil
}

// Delete removes one terminal's mirrored row, called once it has been
// evicted from the live cluster as stale-by-age.
func (s *Store) Delete(cellName, terminalID string) error {
	if _, err := s.db.Exec(`DELETE FROM terminals WHERE cell_name = ? AND terminal_id = ?`, cellName, terminalID); err != nil {
		return fmt.Errorf("registry: delete terminal %s/%s: %w", cellName, terminalID, err)
	}
	return nil
}

// LoadAll returns every mirrored terminal, grouped by cell name, each
// marked Stale so the caller excludes it from routing until reprobed.
func (s *Store) LoadAll() (map[string][]router.Terminal, error) {
	rows, err := s.db.Query(`SELECT cell_name, terminal_id, ip, port FROM terminals`)
	if err != nil {
		return nil, fmt.Errorf("registry: load terminals: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]router.Terminal)
	for rows.Next() {
		var cellName, terminalID, ip string
		var port uint16
		if err := rows.Scan(&cellName, &terminalID, &ip, &port); err != nil {
			return nil, fmt.Errorf("registry: scan terminal row: %w", err)
		}
		out[cellName] = append(out[cellName], router.Terminal{
			ID:       terminalID,
			IP:       ip,
			Port:     port,
			LastSeen: time.Now(),
			Stale:    true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate terminal rows: %w", err)
	}
	return out, nil
}
