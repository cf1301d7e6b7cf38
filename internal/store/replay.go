package store

import (
	"context"
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// Log is a data service whose history can be listed.
type Log interface {
	DataService
	ChangeLog
}

// Integrity is the result of checking one document's change log against
// its head snapshot.
type Integrity struct {
	Key     ir.Key
	HeadSeq int64
	Changes int
	// Gaps lists missing seqs between 1 and HeadSeq.
	Gaps []int64
	// Consistent is true when folding every forward patch onto an empty
	// object reproduces the stored head exactly.
	Consistent bool
	HeadHash   string
	FoldHash   string
}

// OK reports whether the log is complete and consistent.
func (r Integrity) OK() bool {
	return len(r.Gaps) == 0 && r.Consistent
}

// Verify replays key's change log and compares the result with the stored
// head. It is used after a crash, or before trusting a log for replay.
func Verify(ctx context.Context, log Log, key ir.Key) (Integrity, error) {
	report := Integrity{Key: key}

	head, err := log.Get(ctx, key)
	if err != nil {
		return report, fmt.Errorf("verify %s: %w", key, err)
	}
	report.HeadSeq = head.Seq

	changes, err := log.Changes(ctx, key)
	if err != nil {
		return report, fmt.Errorf("verify %s: %w", key, err)
	}
	report.Changes = len(changes)

	folded := ir.IRValue(ir.IRObject{})
	next := int64(1)
	for _, c := range changes {
		for ; next < c.Seq; next++ {
			report.Gaps = append(report.Gaps, next)
		}
		next = c.Seq + 1
		folded = ir.MergePatch(folded, c.Forward)
	}
	for ; next <= head.Seq; next++ {
		report.Gaps = append(report.Gaps, next)
	}

	foldedObj, _ := folded.(ir.IRObject)
	if report.HeadHash, err = ir.SnapshotHash(head.Patch); err != nil {
		return report, err
	}
	if report.FoldHash, err = ir.SnapshotHash(foldedObj); err != nil {
		return report, err
	}
	report.Consistent = report.HeadHash == report.FoldHash
	return report, nil
}

// SnapshotAt rebuilds key's snapshot as of seq by walking reverse patches
// back from the head.
func SnapshotAt(ctx context.Context, log Log, key ir.Key, seq int64) (ir.IRObject, error) {
	head, err := log.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s@%d: %w", key, seq, err)
	}
	if seq < 0 || seq > head.Seq {
		return nil, fmt.Errorf("snapshot %s@%d: seq out of range [0, %d]", key, seq, head.Seq)
	}
	changes, err := log.Changes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s@%d: %w", key, seq, err)
	}
	past, _, err := snapshotAt(head.Patch, changes, seq)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s@%d: %w", key, seq, err)
	}
	return past, nil
}
