package journal

import "codeberg.org/mutker/laptopctl/internal/errors"

const (
	ErrInvalidDBPath = errors.ErrorCode("journal_invalid_db_path")

	ErrSchemaInitFailed       = errors.ErrorCode("journal_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("journal_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("journal_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("journal_transaction_failed")

	ErrStorageInit  = errors.ErrInitJournal
	ErrStorageWrite = errors.ErrWriteJournal
	ErrStorageClose = errors.ErrCloseJournal
)
