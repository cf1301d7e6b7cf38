package store

import (
	"context"
	"errors"

	"github.com/roach88/livedoc/internal/ir"
)

var (
	// ErrNotFound is returned for operations on an unknown document.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned when initializing a document that already exists.
	ErrExists = errors.New("document already exists")
	// ErrHistoryUnavailable is returned when a computation needs changes
	// the service no longer holds.
	ErrHistoryUnavailable = errors.New("history unavailable")
)

// ComputeMethod selects what Compute derives from a document's change log.
type ComputeMethod int

const (
	// ComputeRewind yields the patch that takes the head snapshot back to
	// the snapshot at the given seq.
	ComputeRewind ComputeMethod = iota + 1
	// ComputeHeadPatch yields the patch that takes the snapshot at the
	// given seq forward to the head.
	ComputeHeadPatch
)

func (m ComputeMethod) String() string {
	switch m {
	case ComputeRewind:
		return "rewind"
	case ComputeHeadPatch:
		return "head_patch"
	default:
		return "unknown"
	}
}

// LocalDocumentChange is the result of reading or computing over a
// document.
type LocalDocumentChange struct {
	// Patch is a merge patch (for Get, the whole snapshot).
	Patch ir.IRObject
	// Seq is the head seq at the time of the read.
	Seq int64
	// Reads counts change records consulted.
	Reads int
}

// DataService is the persistence contract the engine writes through.
//
// Every method is called from the document's executor, one at a time per
// key. Implementations must be safe for concurrent use across keys.
type DataService interface {
	// Get returns the head snapshot.
	Get(ctx context.Context, key ir.Key) (*LocalDocumentChange, error)
	// Initialize records a new document from its first change.
	Initialize(ctx context.Context, key ir.Key, change ir.Change) error
	// Patch appends committed changes to the document.
	Patch(ctx context.Context, key ir.Key, changes ...ir.Change) error
	// Compute derives a patch from the change log.
	Compute(ctx context.Context, key ir.Key, method ComputeMethod, seq int64) (*LocalDocumentChange, error)
	// Delete removes the document and its history.
	Delete(ctx context.Context, key ir.Key) error
}

// ChangeLog is implemented by data services that can list history.
type ChangeLog interface {
	Changes(ctx context.Context, key ir.Key) ([]ir.Change, error)
}

// snapshotAt folds reverse patches of every change above seq, newest first,
// onto head. It fails when the log does not reach back to seq.
func snapshotAt(head ir.IRObject, changes []ir.Change, seq int64) (ir.IRObject, int, error) {
	if len(changes) > 0 && changes[0].Seq > seq+1 {
		return nil, 0, ErrHistoryUnavailable
	}
	current := ir.IRValue(head)
	reads := 0
	for i := len(changes) - 1; i >= 0 && changes[i].Seq > seq; i-- {
		current = ir.MergePatch(current, changes[i].Reverse)
		reads++
	}
	obj, _ := current.(ir.IRObject)
	return obj, reads, nil
}

func compute(head ir.IRObject, headSeq int64, changes []ir.Change, method ComputeMethod, seq int64) (*LocalDocumentChange, error) {
	past, reads, err := snapshotAt(head, changes, seq)
	if err != nil {
		return nil, err
	}
	switch method {
	case ComputeRewind:
		return &LocalDocumentChange{Patch: ir.MergeDiff(head, past), Seq: headSeq, Reads: reads}, nil
	case ComputeHeadPatch:
		return &LocalDocumentChange{Patch: ir.MergeDiff(past, head), Seq: headSeq, Reads: reads}, nil
	default:
		return nil, errors.New("unknown compute method")
	}
}
