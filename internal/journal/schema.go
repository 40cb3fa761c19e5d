package journal

import (
	"database/sql"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS commands (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       command_id  TEXT NOT NULL,
	       timestamp   INTEGER NOT NULL,
	       source      TEXT NOT NULL,
	       kind        TEXT NOT NULL,
	       channel     TEXT NOT NULL,
	       payload     TEXT NOT NULL,
	       outcome     TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS transitions (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp   INTEGER NOT NULL,
	       from_state  TEXT NOT NULL,
	       to_state    TEXT NOT NULL,
	       temperature REAL NOT NULL,
	       reason      TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS state (
	       key         TEXT PRIMARY KEY,
	       value       TEXT NOT NULL,
	       updated_at  INTEGER NOT NULL
	   );`

	insertCommandSQL = `
    INSERT INTO commands (
        command_id, timestamp, source, kind, channel, payload, outcome
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertTransitionSQL = `
    INSERT INTO transitions (
        timestamp, from_state, to_state, temperature, reason
    ) VALUES (?, ?, ?, ?, ?)`

	upsertStateSQL = `
    INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
    ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	selectStateSQL = `SELECT value FROM state WHERE key = ?`
)

var tables = []string{"commands", "transitions", "state", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating journal database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
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

	log.Info().Int("version", SchemaVersion).Msg("Journal schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
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
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
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
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
