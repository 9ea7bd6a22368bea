package netcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS gateway (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	address    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dns_servers (
	position   INTEGER PRIMARY KEY,
	address    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Snapshot is the persisted state.
type Snapshot struct {
	Gateway    netip.Addr
	DNSServers []netip.Addr
	UpdatedAt  time.Time
}

// Store persists cache updates in a sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// One writer; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveGateway upserts the gateway row.
func (s *Store) SaveGateway(addr netip.Addr) error {
	_, err := s.db.Exec(
		`INSERT INTO gateway (id, address, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET address = excluded.address, updated_at = excluded.updated_at`,
		addr.String(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save gateway: %w", err)
	}
	return nil
}

// SaveDNSServers replaces the stored list in one transaction.
func (s *Store) SaveDNSServers(servers []netip.Addr) (err error) {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("save DNS servers: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM dns_servers`); err != nil {
		return fmt.Errorf("save DNS servers: %w", err)
	}
	now := s.now().Unix()
	for i, addr := range servers {
		if _, err = tx.Exec(
			`INSERT INTO dns_servers (position, address, updated_at) VALUES (?, ?, ?)`,
			i, addr.String(), now,
		); err != nil {
			return fmt.Errorf("save DNS servers: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save DNS servers: %w", err)
	}
	return nil
}

// Load returns the persisted state. Rows that no longer parse are skipped.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot

	var address string
	var updated int64
	err := s.db.QueryRow(`SELECT address, updated_at FROM gateway WHERE id = 1`).Scan(&address, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return snap, fmt.Errorf("load gateway: %w", err)
	default:
		if addr, err := netip.ParseAddr(address); err == nil {
			snap.Gateway = addr
		}
		snap.UpdatedAt = time.Unix(updated, 0)
	}

	rows, err := s.db.Query(`SELECT address, updated_at FROM dns_servers ORDER BY position`)
	if err != nil {
		return snap, fmt.Errorf("load DNS servers: %w", err)
	}
	defer rows.Close()

	snap.DNSServers = []netip.Addr{}
	for rows.Next() {
		if err := rows.Scan(&address, &updated); err != nil {
			return snap, fmt.Errorf("load DNS servers: %w", err)
		}
		if addr, err := netip.ParseAddr(address); err == nil {
			snap.DNSServers = append(snap.DNSServers, addr)
		}
		if t := time.Unix(updated, 0); t.After(snap.UpdatedAt) {
			snap.UpdatedAt = t
		}
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load DNS servers: %w", err)
	}
	return snap, nil
}

// RestoreInto loads the persisted state into the caches.
func (s *Store) RestoreInto(gateways *GatewayCache, dns *DNSServerCache) error {
	snap, err := s.Load()
	if err != nil {
		return err
	}
	if snap.Gateway.IsValid() {
		gateways.Restore(snap.Gateway)
	}
	dns.Restore(snap.DNSServers)
	return nil
}
