package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/livedoc/internal/ir"
)

// Initialize implements DataService. The document row and its first change
// are written in one SQL transaction.
func (s *Store) Initialize(ctx context.Context, key ir.Key, change ir.Change) error {
	snapshot, _ := ir.MergePatch(ir.IRObject{}, change.Forward).(ir.IRObject)
	snapJSON, err := marshalObject(snapshot)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("initialize %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.now().UnixMilli()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO documents (space, doc_key, snapshot, seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(space, doc_key) DO NOTHING
	`, key.Space, key.ID, snapJSON, change.Seq, now, now)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrExists
	}
	if err := insertChange(ctx, tx, key, change); err != nil {
		return fmt.Errorf("initialize %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("initialize %s: commit: %w", key, err)
	}
	return nil
}

// Patch implements DataService. Changes must continue the stored seq
// without gaps; the head snapshot and the log advance together.
func (s *Store) Patch(ctx context.Context, key ir.Key, changes ...ir.Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("patch %s: begin tx: %w", key, err)
	}
	defer tx.Rollback()

	var snapJSON string
	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT snapshot, seq FROM documents WHERE space = ? AND doc_key = ?
	`, key.Space, key.ID).Scan(&snapJSON, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patch %s: %w", key, err)
	}
	snapshot, err := unmarshalObject(snapJSON)
	if err != nil {
		return fmt.Errorf("patch %s: %w", key, err)
	}

	for _, c := range changes {
		if c.Seq != seq+1 {
			return fmt.Errorf("patch %s: change seq %d does not follow %d", key, c.Seq, seq)
		}
		if err := insertChange(ctx, tx, key, c); err != nil {
			return fmt.Errorf("patch %s: %w", key, err)
		}
		snapshot, _ = ir.MergePatch(snapshot, c.Forward).(ir.IRObject)
		seq = c.Seq
	}

	if snapJSON, err = marshalObject(snapshot); err != nil {
		return fmt.Errorf("patch %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET snapshot = ?, seq = ?, updated_at = ?
		WHERE space = ? AND doc_key = ?
	`, snapJSON, seq, s.now().UnixMilli(), key.Space, key.ID)
	if err != nil {
		return fmt.Errorf("patch %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("patch %s: commit: %w", key, err)
	}
	return nil
}

// Delete implements DataService. The change log goes with the document.
func (s *Store) Delete(ctx context.Context, key ir.Key) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE space = ? AND doc_key = ?
	`, key.Space, key.ID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// insertChange appends one change row. Change ids are ULIDs so the table
// sorts by insertion time as well as by seq.
func insertChange(ctx context.Context, tx *sql.Tx, key ir.Key, c ir.Change) error {
	who, err := marshalWho(c.Who)
	if err != nil {
		return err
	}
	forward, err := marshalObject(c.Forward)
	if err != nil {
		return err
	}
	reverse, err := marshalObject(c.Reverse)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (id, space, doc_key, seq, who, request, forward, reverse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ulid.Make().String(), key.Space, key.ID, c.Seq, who, c.Request, forward, reverse)
	if err != nil {
		return fmt.Errorf("insert change %d: %w", c.Seq, err)
	}
	return nil
}
