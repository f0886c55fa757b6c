package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS calibration_runs (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    metric TEXT NOT NULL,
    step REAL,
    transmittivity REAL NOT NULL,
    diffuse_proportion REAL NOT NULL,
    rmse REAL,
    mae REAL,
    stations INTEGER,
    excluded INTEGER
);

CREATE TABLE IF NOT EXISTS error_surface (
    run_id TEXT NOT NULL REFERENCES calibration_runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    station_id TEXT NOT NULL,
    month DATE NOT NULL,
    transmittivity REAL NOT NULL,
    diffuse_proportion REAL NOT NULL,
    modeled REAL,
    observed REAL,
    rmse REAL,
    mae REAL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS climatology (
    station_id TEXT NOT NULL,
    month INTEGER NOT NULL,
    value REAL NOT NULL,
    loaded_at DATETIME NOT NULL,
    PRIMARY KEY (station_id, month)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON calibration_runs(created_at);
`,
	},
	{
		Version:     2,
		Description: "Add report history",
		SQL: `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    calibration_id TEXT,
    html_path TEXT NOT NULL,
    text_path TEXT,
    area_m2 REAL,
    annual_production REAL,
    annual_consumption REAL,
    transmittivity REAL,
    diffuse_proportion REAL
);

CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
