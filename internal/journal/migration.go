package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
)

func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("journal_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().Str("path", backupPath).Int("version", version).Msg("Journal backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema creates the schema on an empty database. A
// database with another schema version is backed up to backupDir and
// recreated.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Journal schema version is current")
		return nil
	}

	if version != 0 {
		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return err
		}
		if err := dropTables(db, log); err != nil {
			return err
		}
	}

	return InitSchema(db, log)
}

func dropTables(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback drop tables")
			}
		}
	}()

	for _, table := range tables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
