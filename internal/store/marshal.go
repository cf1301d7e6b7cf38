package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/livedoc/internal/ir"
)

// marshalObject converts an IRObject to canonical JSON TEXT for storage.
// Canonical form keeps stored snapshots byte-comparable across replays.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT to IRObject.
// ir.IRObject.UnmarshalJSON decodes numbers through json.Number, so
// integers above 2^53 survive the round trip.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// marshalWho stores a client as canonical JSON, or NULL for system
// changes without one.
func marshalWho(who *ir.Client) (sql.NullString, error) {
	if who == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(who.Object())
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalWho(v sql.NullString) (*ir.Client, error) {
	if !v.Valid {
		return nil, nil
	}
	obj, err := unmarshalObject(v.String)
	if err != nil {
		return nil, err
	}
	c, err := ir.ClientFrom(obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal who: %w", err)
	}
	return &c, nil
}
