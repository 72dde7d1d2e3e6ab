package lease

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by Postgres, so the lease
// survives process restarts and is shared between replicas.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres from the environment and
// ensures the schema exists.
func NewPostgresStore() (*PostgresStore, error) {
	dsn := os.Getenv("LEASE_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("LEASE_DATABASE_URL/DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureTable(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureTable(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_leases (
  name text PRIMARY KEY,
  value text NOT NULL DEFAULT '',
  expires_at timestamptz NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func (s *PostgresStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	// The conditional upsert only wins when the existing lease has
	// expired, making acquisition atomic.
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sync_leases (name, value, expires_at)
VALUES ($1, 'locked', now() + make_interval(secs => $2))
ON CONFLICT (name) DO UPDATE
  SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
  WHERE sync_leases.expires_at <= now()`,
		name, ttl.Seconds())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_leases WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_leases (name, value, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (name) DO UPDATE
  SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttl.Seconds())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_leases WHERE name = $1 AND expires_at > now()`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
