package store

import (
	"database/sql"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS performance_stats (
	       device         TEXT NOT NULL,
	       attribute      TEXT NOT NULL,
	       window_size    TEXT NOT NULL CHECK (window_size IN ('15min', '24hr')),
	       category       TEXT NOT NULL,
	       current_value  REAL,
	       average_value  REAL,
	       min_value      REAL,
	       min_timestamp  TEXT,
	       max_value      REAL,
	       max_timestamp  TEXT,
	       start_time     TEXT,
	       last_reset     TEXT,
	       sample_count   INTEGER NOT NULL CHECK (sample_count >= 0),
	       published_at   TEXT NOT NULL,
	       PRIMARY KEY (device, attribute, window_size)
	   );`

	upsertStatsSQL = `
    INSERT INTO performance_stats (
        device, attribute, window_size, category,
        current_value, average_value,
        min_value, min_timestamp, max_value, max_timestamp,
        start_time, last_reset, sample_count, published_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (device, attribute, window_size) DO UPDATE SET
        category      = excluded.category,
        current_value = excluded.current_value,
        average_value = excluded.average_value,
        min_value     = excluded.min_value,
        min_timestamp = excluded.min_timestamp,
        max_value     = excluded.max_value,
        max_timestamp = excluded.max_timestamp,
        start_time    = excluded.start_time,
        last_reset    = excluded.last_reset,
        sample_count  = excluded.sample_count,
        published_at  = excluded.published_at`
)

// managedTables lists the tables dropped on a schema change
var managedTables = []string{"performance_stats", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback schema creation")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("State schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Table string
			Error string
		}{
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
