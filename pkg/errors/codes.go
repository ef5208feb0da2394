package errors

import "net/http"

// ErrorCode is a string identifier for a specific failure category.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every layer.
const (
	CodeOK                 ErrorCode = "OK"
	CodeUnknown            ErrorCode = "COMMON_000"
	CodeInternal           ErrorCode = "COMMON_001"
	CodeInvalidParam       ErrorCode = "COMMON_002"
	CodeNotFound           ErrorCode = "COMMON_003"
	CodeConflict           ErrorCode = "COMMON_004"
	CodeTimeout            ErrorCode = "COMMON_005"
	CodeServiceUnavailable ErrorCode = "COMMON_006"
	CodeValidation         ErrorCode = "COMMON_007"
	CodeSerialization      ErrorCode = "COMMON_008"
	CodeNotImplemented     ErrorCode = "COMMON_009"
)

// Registry error codes.
const (
	CodeEntityNotFound    ErrorCode = "REG_001"
	CodeLabelConflict     ErrorCode = "REG_002"
	CodeAliasConflict     ErrorCode = "REG_003"
	CodeMergeInvalid      ErrorCode = "REG_004"
	CodeSnapshotInvalid   ErrorCode = "REG_005"
	CodeIntegrityViolated ErrorCode = "REG_006"
	CodeFlushUnconfirmed  ErrorCode = "REG_007"
)

// Scan pipeline error codes.
const (
	CodeScanFailed       ErrorCode = "SCAN_001"
	CodeAnalyzerFailed   ErrorCode = "SCAN_002"
	CodeDocumentInvalid  ErrorCode = "SCAN_003"
	CodeScanInProgress   ErrorCode = "SCAN_004"
)

// Matcher error codes.
const (
	CodeMatcherTimeout   ErrorCode = "MATCH_001"
	CodeMatcherClosed    ErrorCode = "MATCH_002"
	CodeAutomatonEmpty   ErrorCode = "MATCH_003"
)

// Infrastructure error codes.
const (
	CodeGraphStoreError ErrorCode = "INFRA_001"
	CodeEventBusError   ErrorCode = "INFRA_002"
	CodePopularityError ErrorCode = "INFRA_003"
	CodeBackupError     ErrorCode = "INFRA_004"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes for the HTTP
// interface layer. Codes absent from the map default to 500.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	CodeOK:                 http.StatusOK,
	CodeInternal:           http.StatusInternalServerError,
	CodeInvalidParam:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeValidation:         http.StatusUnprocessableEntity,
	CodeSerialization:      http.StatusInternalServerError,
	CodeNotImplemented:     http.StatusNotImplemented,

	CodeEntityNotFound:    http.StatusNotFound,
	CodeLabelConflict:     http.StatusConflict,
	CodeAliasConflict:     http.StatusConflict,
	CodeMergeInvalid:      http.StatusBadRequest,
	CodeSnapshotInvalid:   http.StatusBadRequest,
	CodeIntegrityViolated: http.StatusInternalServerError,
	CodeFlushUnconfirmed:  http.StatusBadRequest,

	CodeScanFailed:      http.StatusInternalServerError,
	CodeAnalyzerFailed:  http.StatusInternalServerError,
	CodeDocumentInvalid: http.StatusBadRequest,
	CodeScanInProgress:  http.StatusConflict,

	CodeMatcherTimeout: http.StatusGatewayTimeout,
	CodeMatcherClosed:  http.StatusServiceUnavailable,
	CodeAutomatonEmpty: http.StatusConflict,

	CodeGraphStoreError: http.StatusInternalServerError,
	CodeEventBusError:   http.StatusInternalServerError,
	CodePopularityError: http.StatusInternalServerError,
	CodeBackupError:     http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status associated with the code, defaulting to
// 500 for unmapped codes.
func (c ErrorCode) HTTPStatus() int {
	if s, ok := ErrorCodeHTTPStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}
