package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore reuses an existing *sql.DB (for example opened via
// pgx/stdlib) and ensures the schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS employees (
  name text PRIMARY KEY,
  employee_code text NOT NULL DEFAULT '',
  user_id text NOT NULL DEFAULT '',
  attendance_device_id text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS employee_checkins (
  id bigserial PRIMARY KEY,
  employee text NOT NULL REFERENCES employees(name),
  punch_time timestamptz NOT NULL,
  log_type text NOT NULL,
  device_id text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS employee_checkins_dedup_idx
  ON employee_checkins (employee, punch_time, log_type, device_id);

CREATE TABLE IF NOT EXISTS sync_config (
  id int PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  server_ip text NOT NULL DEFAULT '',
  server_port int NOT NULL DEFAULT 0,
  username text NOT NULL DEFAULT '',
  password text NOT NULL DEFAULT '',
  token text NOT NULL DEFAULT '',
  enable_sync boolean NOT NULL DEFAULT false,
  interval_seconds int NOT NULL DEFAULT 300,
  last_sync timestamptz,
  total_synced bigint NOT NULL DEFAULT 0
);
`
	_, err := db.Exec(ddl)
	return err
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// FindByCode resolves an employee by code, external user id, then
// attendance device id.
func (s *PostgresStore) FindByCode(ctx context.Context, code string) (string, error) {
	queries := []string{
		`SELECT name FROM employees WHERE employee_code = $1`,
		`SELECT name FROM employees WHERE user_id = $1`,
		`SELECT name FROM employees WHERE attendance_device_id = $1`,
	}
	for _, q := range queries {
		var name string
		err := s.db.QueryRowContext(ctx, q, code).Scan(&name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}
	return "", nil
}

// =============================================================================
// CHECKIN STORE
// =============================================================================

func (s *PostgresStore) Exists(ctx context.Context, c Checkin) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM employee_checkins WHERE employee=$1 AND punch_time=$2 AND log_type=$3 AND device_id=$4`,
		c.Employee, c.Time, c.LogType, c.DeviceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, c Checkin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employee_checkins (employee, punch_time, log_type, device_id) VALUES ($1,$2,$3,$4)`,
		c.Employee, c.Time, c.LogType, c.DeviceID)
	return err
}

// =============================================================================
// CONFIG STORE
// =============================================================================

func (s *PostgresStore) Get(ctx context.Context) (*SyncConfig, error) {
	cfg := &SyncConfig{IntervalSeconds: DefaultIntervalSeconds}
	var lastSync sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT server_ip, server_port, username, password, token, enable_sync, interval_seconds, last_sync, total_synced
		 FROM sync_config WHERE id = 1`).Scan(
		&cfg.ServerIP, &cfg.ServerPort, &cfg.Username, &cfg.Password, &cfg.Token,
		&cfg.EnableSync, &cfg.IntervalSeconds, &lastSync, &cfg.TotalSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		cfg.LastSync = &t
	}
	return cfg, nil
}

func (s *PostgresStore) Put(ctx context.Context, cfg *SyncConfig) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_config (id, server_ip, server_port, username, password, token, enable_sync, interval_seconds)
VALUES (1, $1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  server_ip = EXCLUDED.server_ip,
  server_port = EXCLUDED.server_port,
  username = EXCLUDED.username,
  password = EXCLUDED.password,
  token = EXCLUDED.token,
  enable_sync = EXCLUDED.enable_sync,
  interval_seconds = EXCLUDED.interval_seconds`,
		cfg.ServerIP, cfg.ServerPort, cfg.Username, cfg.Password, cfg.Token,
		cfg.EnableSync, cfg.IntervalSeconds)
	return err
}

func (s *PostgresStore) Advance(ctx context.Context, watermark time.Time, added int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_config SET last_sync = $1, total_synced = total_synced + $2 WHERE id = 1`,
		watermark, added)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sync_config (id, last_sync, total_synced) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO UPDATE SET last_sync = EXCLUDED.last_sync,
			   total_synced = sync_config.total_synced + $2`,
			watermark, added)
	}
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
