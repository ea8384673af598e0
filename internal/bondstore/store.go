// Package bondstore persists bonded BLE peers in SQLite so the wearable
// stays locked to its collector across restarts.
package bondstore

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pulsera/internal/ble"
	"pulsera/internal/clock"
	"pulsera/internal/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

//go:embed sql/list-peers.sql
var listPeersSQL string

//go:embed sql/upsert-peer.sql
var upsertPeerSQL string

//go:embed sql/evict-oldest.sql
var evictOldestSQL string

// Store is a ble.BondStore backed by the bonds table.
type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

var _ ble.BondStore = (*Store)(nil)

// New migrates db and returns a store over it.
func New(db *sql.DB, c clock.Clock, logger *slog.Logger) (*Store, error) {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := migrate.Run(db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("bond store migrate: %w", err)
	}
	return &Store{db: db, clock: c, logger: logger}, nil
}

// Peers returns bonded peers oldest first.
func (s *Store) Peers() ([]ble.Address, error) {
	rows, err := s.db.Query(listPeersSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close bond rows", "error", err)
		}
	}()
	var out []ble.Address
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, ble.Address(p))
	}
	return out, rows.Err()
}

func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bonds`).Scan(&n)
	return n, err
}

// Add records peer as the newest bond and evicts the oldest beyond ble.MaxBonds.
func (s *Store) Add(peer ble.Address) error {
	p := strings.TrimSpace(string(peer))
	if p == "" {
		return fmt.Errorf("bond store: empty peer address")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(upsertPeerSQL, p, ts); err != nil {
		return fmt.Errorf("upsert bond: %w", err)
	}
	res, err := tx.Exec(evictOldestSQL, ble.MaxBonds)
	if err != nil {
		return fmt.Errorf("evict bonds: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("bond evicted", "count", n)
	}
	return nil
}

func (s *Store) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM bonds`)
	return err
}
