// Package errors provides structured error handling for the retrieval core.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and persistence errors
//   - 3XX: Cluster and network errors
//   - 4XX: Validation and quota errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and snapshot I/O errors.
	CategoryIO Category = "IO"
	// CategoryCluster indicates cluster bus and network errors.
	CategoryCluster Category = "CLUSTER"
	// CategoryValidation indicates input validation and quota errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeSnapshotWrite = "ERR_201_SNAPSHOT_WRITE"
	ErrCodeSnapshotRead  = "ERR_202_SNAPSHOT_READ"
	ErrCodeShardWrite    = "ERR_203_SHARD_WRITE"
	ErrCodeStoreLocked   = "ERR_204_STORE_LOCKED"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"

	// Cluster errors (300-399)
	ErrCodeClusterTimeout     = "ERR_301_CLUSTER_TIMEOUT"
	ErrCodeClusterUnavailable = "ERR_302_CLUSTER_UNAVAILABLE"
	ErrCodeBadRPCPayload      = "ERR_303_BAD_RPC_PAYLOAD"

	// Validation and quota errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeQuotaExceeded     = "ERR_402_QUOTA_EXCEEDED"
	ErrCodeNotFound          = "ERR_403_NOT_FOUND"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeMissingDocID      = "ERR_405_MISSING_DOCID"
	ErrCodeEmptyVector       = "ERR_406_EMPTY_VECTOR"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed   = "ERR_502_EMBEDDING_FAILED"
	ErrCodeIndexInconsistent = "ERR_503_INDEX_INCONSISTENT"
	ErrCodeIngestFailed      = "ERR_504_INGEST_FAILED"
	ErrCodeSearchFailed      = "ERR_505_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryCluster
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from the code.
// Missing docid and dimension mismatch are fatal to their operation; quota and
// cluster timeouts degrade.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeMissingDocID, ErrCodeDimensionMismatch, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeClusterTimeout, ErrCodeIndexInconsistent:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeClusterTimeout, ErrCodeClusterUnavailable, ErrCodeEmbeddingFailed,
		ErrCodeSnapshotWrite, ErrCodeShardWrite:
		return true
	default:
		return false
	}
}
