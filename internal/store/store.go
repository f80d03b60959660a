// Package store provides the SQLite zone backing store.
//
// A zone configured with `database: "sqlite:<path>"` reads its records from
// the store at that path. Records are kept in master-file presentation format,
// one row per record, and replaced as a whole per zone. The schema is managed
// with golang-migrate from embedded migrations.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/miekg/dns"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned for zones absent from the store. It matches
// fs.ErrNotExist so that zone loading treats it like a missing file.
var ErrNotFound = fmt.Errorf("zone not in store: %w", fs.ErrNotExist)

// ZoneInfo summarizes a stored zone.
type ZoneInfo struct {
	Origin    string
	Class     uint16
	Serial    uint32
	Records   int
	UpdatedAt time.Time
}

// Store wraps a SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the store at path and applies pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	if err := migrateUp(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate store %s: %w", path, err)
	}
	return &Store{conn: conn, path: path}, nil
}

func migrateUp(conn *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlitemigrate.WithInstance(conn, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// PutZone replaces the records of origin/class.
func (s *Store) PutZone(ctx context.Context, origin string, class uint16, rrs []dns.RR) error {
	origin = dns.CanonicalName(origin)
	var serial uint32
	for _, rr := range rrs {
		if soa, ok := rr.(*dns.SOA); ok {
			serial = soa.Serial
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO zones (origin, class, serial, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (origin, class) DO UPDATE SET serial = excluded.serial, updated_at = excluded.updated_at
		RETURNING id
	`, origin, class, serial, time.Now().UnixNano()).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert zone %s: %w", origin, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE zone_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear records of %s: %w", origin, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (zone_id, seq, rr) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rr := range rrs {
		if _, err := stmt.ExecContext(ctx, id, i, rr.String()); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rr.Header().Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit zone %s: %w", origin, err)
	}
	return nil
}

// DeleteZone removes origin/class and its records.
func (s *Store) DeleteZone(ctx context.Context, origin string, class uint16) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM zones WHERE origin = ? AND class = ?",
		dns.CanonicalName(origin), class)
	if err != nil {
		return fmt.Errorf("failed to delete zone %s: %w", origin, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", origin, ErrNotFound)
	}
	// Records are removed explicitly in case foreign keys are disabled.
	_, err = s.conn.ExecContext(ctx, "DELETE FROM records WHERE zone_id NOT IN (SELECT id FROM zones)")
	return err
}

// ModTime returns when origin/class was last written.
func (s *Store) ModTime(ctx context.Context, origin string, class uint16) (time.Time, error) {
	var ns int64
	err := s.conn.QueryRowContext(ctx, "SELECT updated_at FROM zones WHERE origin = ? AND class = ?",
		dns.CanonicalName(origin), class).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", origin, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query zone %s: %w", origin, err)
	}
	return time.Unix(0, ns), nil
}

// Records returns the records of origin/class in insertion order.
func (s *Store) Records(ctx context.Context, origin string, class uint16) ([]dns.RR, error) {
	origin = dns.CanonicalName(origin)
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.rr FROM records r JOIN zones z ON z.id = r.zone_id
		WHERE z.origin = ? AND z.class = ?
		ORDER BY r.seq
	`, origin, class)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", origin, err)
	}
	defer rows.Close()

	var rrs []dns.RR
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rr, err := dns.NewRR(text)
		if err != nil {
			return nil, fmt.Errorf("stored record %q: %w", text, err)
		}
		rrs = append(rrs, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rrs) == 0 {
		if _, err := s.ModTime(ctx, origin, class); err != nil {
			return nil, err
		}
	}
	return rrs, nil
}

// Zones lists the stored zones ordered by origin.
func (s *Store) Zones(ctx context.Context) ([]ZoneInfo, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT z.origin, z.class, z.serial, z.updated_at, COUNT(r.seq)
		FROM zones z LEFT JOIN records r ON r.zone_id = z.id
		GROUP BY z.id ORDER BY z.origin, z.class
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var out []ZoneInfo
	for rows.Next() {
		var (
			zi ZoneInfo
			ns int64
		)
		if err := rows.Scan(&zi.Origin, &zi.Class, &zi.Serial, &ns, &zi.Records); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zi.UpdatedAt = time.Unix(0, ns)
		out = append(out, zi)
	}
	return out, rows.Err()
}

// Source returns a zone.Source reading origin/class from s.
func (s *Store) Source(origin string, class uint16) zone.Source {
	return zoneSource{store: s, origin: origin, class: class}
}

type zoneSource struct {
	store  *Store
	origin string
	class  uint16
}

func (z zoneSource) ModTime(ctx context.Context) (time.Time, error) {
	return z.store.ModTime(ctx, z.origin, z.class)
}

func (z zoneSource) Records(ctx context.Context) ([]dns.RR, error) {
	return z.store.Records(ctx, z.origin, z.class)
}

// Pool shares one Store per path across configuration generations.
type Pool struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{stores: make(map[string]*Store)}
}

// Get returns the store at path, opening it on first use.
func (p *Pool) Get(path string) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stores[path]; ok {
		return s, nil
	}
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	p.stores[path] = s
	return s, nil
}

// Close closes every store.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for path, s := range p.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		delete(p.stores, path)
	}
	return errors.Join(errs...)
}
