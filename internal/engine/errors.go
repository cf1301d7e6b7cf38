package engine

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes document errors by how the caller should react.
type ErrorKind string

const (
	// KindValidation: a required envelope field is missing or malformed.
	// Nothing ran.
	KindValidation ErrorKind = "VALIDATION"
	// KindPolicy: the document refused the caller. Nothing changed.
	KindPolicy ErrorKind = "POLICY"
	// KindDedup: the marker was already used. The handler did not run.
	KindDedup ErrorKind = "DEDUP"
	// KindExecution: document logic aborted or faulted. The transaction
	// was reverted.
	KindExecution ErrorKind = "EXECUTION"
	// KindFatal: document logic exhausted its goodwill budget. Retrying the
	// identical command will fail the same way.
	KindFatal ErrorKind = "FATAL"
	// KindCapacity: a queue ceiling was reached.
	KindCapacity ErrorKind = "CAPACITY"
	// KindStorage: the data service failed. The transaction was reverted.
	KindStorage ErrorKind = "STORAGE"
)

// Error codes. They are stable and part of the wire contract.
const (
	CodeMissingCommand      = 194575
	CodeMissingTimestamp    = 143889
	CodeMissingWho          = 122896
	CodeUnknownCommand      = 132116
	CodeMalformedEnvelope   = 146405
	CodeConstructMissingArg = 196624
	CodeAlreadyConstructed  = 132111
	CodeNotConstructed      = 145935
	CodeInvalidField        = 184335
	CodeSendMissingChannel  = 160268
	CodeSendMissingMessage  = 184332
	CodeUnknownChannel      = 160269
	CodeBadMessage          = 160270
	CodeTypeMismatch        = 160271
	CodeAttachMissingAsset  = 143380
	CodeExpireMissingLimit  = 146448
	CodeExpireNegativeLimit = 146449
	CodeApplyMissingPatch   = 193055
	CodeDeployMissingSchema = 193056
	CodeDuplicateMarker     = 143407
	CodeSendNotConnected    = 143373
	CodeAlreadyConnected    = 115724
	CodeConnectRejected     = 184333
	CodeNotConnected        = 145423
	CodeAttachNotConnected  = 125966
	CodeAttachRejected      = 125967
	CodeViewNotConnected    = 125960
	CodeGoodwillExhausted   = 950384
	CodeAbort               = 127152
	CodeExecutionFault      = 127153
	CodeUnknownLabel        = 188416
	CodeDestroyed           = 134195
	CodeTooManyInflight     = 123004
	CodeTooManyMessages     = 192639
	CodeConcurrentTxn       = 119825
	CodeRewindUnavailable   = 110218
	CodeStorage             = 710000
)

// ErrConcurrentTransaction is wrapped by the CodeConcurrentTxn error raised
// when a transaction starts while another is running on the same document.
var ErrConcurrentTransaction = errors.New("concurrent transaction")

// DocumentError is the error type returned by every document operation.
//
// Code identifies the exact condition; Kind groups codes by recovery
// strategy. Err carries the underlying cause where there is one.
type DocumentError struct {
	Code    int
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %d: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %d: %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DocumentError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, code int, format string, args ...any) *DocumentError {
	return &DocumentError{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(code int, format string, args ...any) *DocumentError {
	return newError(KindValidation, code, format, args...)
}

func policyError(code int, format string, args ...any) *DocumentError {
	return newError(KindPolicy, code, format, args...)
}

func faultError(code int, format string, args ...any) *DocumentError {
	return newError(KindExecution, code, format, args...)
}

// storageError wraps a data service failure. Errors that already carry a
// code pass through unchanged so callers see the service's own code.
func storageError(op string, err error) error {
	var de *DocumentError
	if errors.As(err, &de) {
		return err
	}
	return &DocumentError{Code: CodeStorage, Kind: KindStorage, Message: op + " failed", Err: err}
}

// ErrorCode extracts the code of a DocumentError, or 0.
// Uses errors.As to handle wrapped errors.
func ErrorCode(err error) int {
	var de *DocumentError
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}

// IsKind reports whether err is a DocumentError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DocumentError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// IsFatal reports whether err is a goodwill exhaustion.
func IsFatal(err error) bool {
	return IsKind(err, KindFatal)
}

// IsDedup reports whether err is a reused marker rejection.
func IsDedup(err error) bool {
	return IsKind(err, KindDedup)
}

// IsCapacity reports whether err is a queue ceiling rejection.
func IsCapacity(err error) bool {
	return IsKind(err, KindCapacity)
}
