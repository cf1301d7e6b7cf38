package engine

import (
	"strconv"

	"github.com/roach88/livedoc/internal/ir"
)

// envelope is a parsed command request.
type envelope struct {
	obj       ir.IRObject
	command   string
	timestamp int64
	who       ir.Client
	hasWho    bool
}

func parseEnvelope(data []byte) (*envelope, error) {
	obj, err := ir.ParseObject(data)
	if err != nil {
		return nil, &DocumentError{
			Code:    CodeMalformedEnvelope,
			Kind:    KindValidation,
			Message: "envelope is not a JSON object",
			Err:     err,
		}
	}
	return envelopeFrom(obj)
}

// envelopeFrom checks the fields every command needs: command first, then
// timestamp, then (if present) who.
func envelopeFrom(obj ir.IRObject) (*envelope, error) {
	command, _ := obj["command"].(ir.IRString)
	if command == "" {
		return nil, validationError(CodeMissingCommand, "envelope has no command")
	}
	raw, present := obj["timestamp"]
	ts := parseMillis(raw)
	if !present || ts < 0 {
		return nil, validationError(CodeMissingTimestamp, "envelope has no valid timestamp")
	}
	env := &envelope{obj: obj, command: string(command), timestamp: ts}
	if w, ok := obj["who"]; ok {
		who, err := ir.ClientFrom(w)
		if err != nil {
			return nil, &DocumentError{Code: CodeMissingWho, Kind: KindValidation, Message: "envelope who is invalid", Err: err}
		}
		env.who, env.hasWho = who, true
	}
	return env, nil
}

func (e *envelope) requireWho() error {
	if !e.hasWho {
		return validationError(CodeMissingWho, "%s requires who", e.command)
	}
	return nil
}

func (e *envelope) str(field string) (string, bool) {
	s, ok := e.obj[field].(ir.IRString)
	return string(s), ok && s != ""
}

// integer reads an int or decimal-string field.
func (e *envelope) integer(field string) (int64, bool) {
	switch v := e.obj[field].(type) {
	case ir.IRInt:
		return int64(v), true
	case ir.IRString:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (e *envelope) txn() *txn {
	return &txn{
		command:   e.command,
		who:       e.who,
		hasWho:    e.hasWho,
		request:   ir.Canonical(e.obj),
		timestamp: e.timestamp,
	}
}

// forge builds an envelope for the convenience methods, stamped with the
// document's clock.
func (d *Document) forge(command string, who *ir.Client, fields ...ir.IRPair) *envelope {
	obj := ir.Obj(fields...)
	obj["command"] = ir.IRString(command)
	now := d.clock.Now()
	obj["timestamp"] = ir.IRString(strconv.FormatInt(now, 10))
	env := &envelope{obj: obj, command: command, timestamp: now}
	if who != nil {
		obj["who"] = who.Object()
		env.who, env.hasWho = *who, true
	}
	return env
}
