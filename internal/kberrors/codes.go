// Package kberrors provides structured error handling for kbase.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (object store, metadata DB, vector index)
//   - 3XX: Provider errors (embedding, LLM, rerank, conversion engines)
//   - 4XX: Request errors (validation, permissions, state preconditions)
//   - 5XX: Internal errors
package kberrors

// Kind classifies errors for handling and reporting.
type Kind string

const (
	// KindConfig indicates configuration-related errors.
	KindConfig Kind = "CONFIG"
	// KindStorage indicates object store, database, or vector index errors.
	KindStorage Kind = "STORAGE"
	// KindProvider indicates external model provider errors.
	KindProvider Kind = "PROVIDER"
	// KindRequest indicates caller errors: bad input, missing resources,
	// permission or state violations.
	KindRequest Kind = "REQUEST"
	// KindInternal indicates unexpected internal errors.
	KindInternal Kind = "INTERNAL"
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

// Error codes organized by kind.
const (
	// Config errors (100-199)
	CodeConfigInvalid     = "ERR_101_CONFIG_INVALID"
	CodeDimensionMismatch = "ERR_102_DIMENSION_MISMATCH"

	// Storage errors (200-299)
	CodeStorage = "ERR_201_STORAGE"
	CodeDB      = "ERR_202_DB"
	CodeVector  = "ERR_203_VECTOR"

	// Provider errors (300-399)
	CodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	CodeProviderBusy        = "ERR_302_PROVIDER_BUSY"
	CodeProviderBadResponse = "ERR_303_PROVIDER_BAD_RESPONSE"

	// Request errors (400-499)
	CodeValidation   = "ERR_401_VALIDATION"
	CodeNotFound     = "ERR_402_NOT_FOUND"
	CodeForbidden    = "ERR_403_FORBIDDEN"
	CodePrecondition = "ERR_404_PRECONDITION"

	// Internal errors (500-599)
	CodeInternal         = "ERR_501_INTERNAL"
	CodeConversionFailed = "ERR_502_CONVERSION_FAILED"
)

// kindFromCode extracts the kind from an error code.
func kindFromCode(code string) Kind {
	if len(code) < 7 {
		return KindInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_STORAGE".
	switch code[4] {
	case '1':
		return KindConfig
	case '2':
		return KindStorage
	case '3':
		return KindProvider
	case '4':
		return KindRequest
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == CodeDimensionMismatch {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a transient condition.
func isRetryableCode(code string) bool {
	switch code {
	case CodeStorage, CodeProviderUnavailable:
		return true
	default:
		return false
	}
}
