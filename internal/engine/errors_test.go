package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentError_Format(t *testing.T) {
	err := validationError(CodeMissingWho, "missing %s", "who")

	assert.Equal(t, "VALIDATION 122896: missing who", err.Error())

	wrapped := &DocumentError{Code: CodeStorage, Kind: KindStorage, Message: "patch failed", Err: errors.New("disk full")}
	assert.Equal(t, "STORAGE 710000: patch failed: disk full", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "disk full")
}

func TestErrorCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("transact: %w", policyError(CodeAlreadyConnected, "already connected"))

	assert.Equal(t, CodeAlreadyConnected, ErrorCode(err))
	assert.True(t, IsKind(err, KindPolicy))
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, ErrorCode(errors.New("plain")))
}

func TestStorageError_PassesCodesThrough(t *testing.T) {
	coded := &DocumentError{Code: 23456, Kind: KindStorage, Message: "compute"}

	assert.Equal(t, 23456, ErrorCode(storageError("compute", coded)))
	assert.Equal(t, CodeStorage, ErrorCode(storageError("patch", errors.New("boom"))))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsDedup(newError(KindDedup, CodeDuplicateMarker, "dup")))
	assert.True(t, IsCapacity(newError(KindCapacity, CodeTooManyMessages, "full")))
	assert.True(t, IsKind(faultError(CodeAbort, "abort"), KindExecution))
}
