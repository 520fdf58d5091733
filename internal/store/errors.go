package store

import "codeberg.org/mutker/peripheralpm/internal/errors"

const (
	// Configuration Errors
	ErrUnknownBackend = errors.ErrorCode("store_unknown_backend")
	ErrInvalidDBPath  = errors.ErrorCode("store_invalid_db_path")

	// Lifecycle Errors
	ErrStoreInit  = errors.ErrorCode("store_init_failed")
	ErrStoreClose = errors.ErrorCode("store_close_failed")

	// Write Errors
	ErrWriteFailed       = errors.ErrorCode("store_write_failed")
	ErrTransactionFailed = errors.ErrorCode("store_transaction_failed")
	ErrEncodeFailed      = errors.ErrorCode("store_encode_failed")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
)
