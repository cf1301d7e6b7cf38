package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// DocumentInfo summarizes one stored document.
type DocumentInfo struct {
	Key       ir.Key
	Seq       int64
	CreatedAt int64
	UpdatedAt int64
}

// Get implements DataService.
func (s *Store) Get(ctx context.Context, key ir.Key) (*LocalDocumentChange, error) {
	snapshot, seq, err := s.head(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	return &LocalDocumentChange{Patch: snapshot, Seq: seq}, nil
}

// Changes implements ChangeLog. Changes are ordered by seq ascending.
func (s *Store) Changes(ctx context.Context, key ir.Key) ([]ir.Change, error) {
	if _, _, err := s.head(ctx, s.db, key); err != nil {
		return nil, err
	}
	return s.changesAfter(ctx, s.db, key, 0)
}

// Compute implements DataService. Only changes above seq are read.
func (s *Store) Compute(ctx context.Context, key ir.Key, method ComputeMethod, seq int64) (*LocalDocumentChange, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("compute %s: begin tx: %w", key, err)
	}
	defer tx.Rollback()

	head, headSeq, err := s.head(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	changes, err := s.changesAfter(ctx, tx, key, seq)
	if err != nil {
		return nil, err
	}
	if seq < headSeq && (len(changes) == 0 || changes[0].Seq != seq+1) {
		return nil, ErrHistoryUnavailable
	}
	return compute(head, headSeq, changes, method, seq)
}

// List returns every stored document ordered by key.
func (s *Store) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT space, doc_key, seq, created_at, updated_at
		FROM documents
		ORDER BY space COLLATE BINARY ASC, doc_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []DocumentInfo{}
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.Key.Space, &d.Key.ID, &d.Seq, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) head(ctx context.Context, q querier, key ir.Key) (ir.IRObject, int64, error) {
	var snapJSON string
	var seq int64
	err := q.QueryRowContext(ctx, `
		SELECT snapshot, seq FROM documents WHERE space = ? AND doc_key = ?
	`, key.Space, key.ID).Scan(&snapJSON, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	snapshot, err := unmarshalObject(snapJSON)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	return snapshot, seq, nil
}

func (s *Store) changesAfter(ctx context.Context, q querier, key ir.Key, seq int64) ([]ir.Change, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, who, request, forward, reverse
		FROM changes
		WHERE space = ? AND doc_key = ? AND seq > ?
		ORDER BY seq ASC
	`, key.Space, key.ID, seq)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

func scanChange(rows *sql.Rows) (ir.Change, error) {
	var c ir.Change
	var who sql.NullString
	var forward, reverse string
	if err := rows.Scan(&c.Seq, &who, &c.Request, &forward, &reverse); err != nil {
		return ir.Change{}, fmt.Errorf("scan change: %w", err)
	}
	var err error
	if c.Who, err = unmarshalWho(who); err != nil {
		return ir.Change{}, err
	}
	if c.Forward, err = unmarshalObject(forward); err != nil {
		return ir.Change{}, err
	}
	if c.Reverse, err = unmarshalObject(reverse); err != nil {
		return ir.Change{}, err
	}
	return c, nil
}
