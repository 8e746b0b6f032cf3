package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gridwx/weather-grid-service/internal/dataset"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// WAL keeps the upload writer from blocking concurrent query readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks database reachability. Used for health checks.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS weather_records (
		grid_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		kind TEXT NOT NULL,
		location_name TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		population REAL NOT NULL DEFAULT 0,
		role TEXT NOT NULL,
		source_grid_id TEXT NOT NULL,
		source_city TEXT NOT NULL,
		temperature REAL NOT NULL DEFAULT 0,
		humidity REAL NOT NULL DEFAULT 0,
		chance_of_rain REAL NOT NULL DEFAULT 0,
		precipitation REAL NOT NULL DEFAULT 0,
		wind_speed REAL NOT NULL DEFAULT 0,
		formula_version TEXT NOT NULL,
		PRIMARY KEY (grid_id, ts, kind, location_name)
	);

	CREATE INDEX IF NOT EXISTS idx_records_name ON weather_records(location_name, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

const recordColumns = `grid_id, ts, kind, location_name, country, lat, lon, population,
	role, source_grid_id, source_city, temperature, humidity, chance_of_rain,
	precipitation, wind_speed, formula_version`

// PutBatch writes records in one transaction with INSERT OR REPLACE, so
// re-uploading a dataset is idempotent.
func (s *SQLiteStore) PutBatch(ctx context.Context, recs []dataset.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upload batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO weather_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare upload: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.GridID, r.Timestamp, string(r.Kind), r.LocationName, r.Country,
			r.Lat, r.Lon, r.Population, string(r.Role), r.SourceGridID,
			r.SourceCity, r.Temperature, r.Humidity, r.ChanceOfRain,
			r.Precipitation, r.WindSpeed, r.FormulaVersion,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put record %s/%s: %w", r.GridID, r.Timestamp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upload batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordsByGrid(ctx context.Context, gridID string) ([]dataset.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM weather_records
		WHERE grid_id = ? ORDER BY kind, ts, location_name`, gridID)
	if err != nil {
		return nil, fmt.Errorf("query grid %s: %w", gridID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) LookupsByName(ctx context.Context, name string) ([]dataset.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM weather_records
		WHERE location_name = ? COLLATE NOCASE AND kind = ? ORDER BY population DESC, grid_id`,
		name, string(dataset.KindCityLookup))
	if err != nil {
		return nil, fmt.Errorf("query name %s: %w", name, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]dataset.Record, error) {
	var out []dataset.Record
	for rows.Next() {
		var r dataset.Record
		var kind, role string
		if err := rows.Scan(
			&r.GridID, &r.Timestamp, &kind, &r.LocationName, &r.Country,
			&r.Lat, &r.Lon, &r.Population, &role, &r.SourceGridID,
			&r.SourceCity, &r.Temperature, &r.Humidity, &r.ChanceOfRain,
			&r.Precipitation, &r.WindSpeed, &r.FormulaVersion,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = dataset.Kind(kind)
		r.Role = dataset.Role(role)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
