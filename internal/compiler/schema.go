package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/livedoc/internal/ir"
)

// CompileSchema parses a CUE value into a SchemaSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the document struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`document: counter: { ... }`)
//	spec, err := CompileSchema(v.LookupPath(cue.ParsePath("document.counter")))
//
// A document struct has these members, all optional:
//
//	fields:   name: <type> | {type, privacy, policy, default, formula}
//	messages: Name: {field: <type>, ...}
//	channels: name: {message, direct, array}
//	labels:   ["state", ...]
//	static:   {blind_send: bool}
//
// A bare CUE type (int, string, bool, [...], {...}) declares a public
// field; a concrete value also sets the default.
func CompileSchema(v cue.Value) (*ir.SchemaSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.SchemaSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	var err error
	if spec.Fields, err = parseFields(v); err != nil {
		return nil, err
	}
	if spec.Messages, err = parseMessages(v); err != nil {
		return nil, err
	}
	if spec.Channels, err = parseChannels(v); err != nil {
		return nil, err
	}
	if spec.Labels, err = parseLabels(v); err != nil {
		return nil, err
	}

	staticVal := v.LookupPath(cue.ParsePath("static.blind_send"))
	if staticVal.Exists() {
		if spec.Static.BlindSend, err = staticVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if errs := spec.Validate(); len(errs) > 0 {
		return nil, &CompileError{Field: errs[0].Field, Message: errs[0].Message, Pos: v.Pos()}
	}
	return spec, nil
}

// CompileSource compiles every schema under the top-level "document" struct
// of a CUE source, in declaration order.
func CompileSource(filename string, src []byte) ([]*ir.SchemaSpec, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileDocuments(v)
}

// CompileDocuments compiles every member of v's "document" struct.
func CompileDocuments(v cue.Value) ([]*ir.SchemaSpec, error) {
	docs := v.LookupPath(cue.ParsePath("document"))
	if !docs.Exists() {
		return nil, &CompileError{Field: "document", Message: "no document schemas found", Pos: v.Pos()}
	}
	iter, err := docs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var specs []*ir.SchemaSpec
	for iter.Next() {
		spec, err := CompileSchema(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// parseFields extracts document fields in declaration order.
func parseFields(v cue.Value) ([]ir.FieldSpec, error) {
	var fields []ir.FieldSpec

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return fields, nil
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		fv := iter.Value()

		if typeVal := fv.LookupPath(cue.ParsePath("type")); fv.IncompleteKind() == cue.StructKind && typeVal.Exists() {
			f, err := parseFieldStruct(name, fv)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			continue
		}

		typ, err := extractTypeName(fv)
		if err != nil {
			return nil, err
		}
		f := ir.FieldSpec{Name: name, Type: ir.FieldType(typ), Privacy: ir.PrivacyPublic}
		if fv.IsConcrete() {
			if f.Default, err = toIR(fv); err != nil {
				return nil, err
			}
		}
		fields = append(fields, f)
	}

	return fields, nil
}

// parseFieldStruct reads the long field form.
func parseFieldStruct(name string, v cue.Value) (ir.FieldSpec, error) {
	f := ir.FieldSpec{Name: name, Privacy: ir.PrivacyPublic}

	typ, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.Type = ir.FieldType(typ)
	if !ir.ValidTypes[f.Type] {
		return f, &CompileError{
			Field:   fmt.Sprintf("fields.%s.type", name),
			Message: fmt.Sprintf("invalid type %q", typ),
			Pos:     v.Pos(),
		}
	}

	if pv := v.LookupPath(cue.ParsePath("privacy")); pv.Exists() {
		s, err := pv.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.Privacy = ir.Privacy(s)
	}
	if pv := v.LookupPath(cue.ParsePath("policy")); pv.Exists() {
		if f.Policy, err = pv.String(); err != nil {
			return f, formatCUEError(err)
		}
		if v.LookupPath(cue.ParsePath("privacy")).Exists() && f.Privacy != ir.PrivacyPolicy {
			return f, &CompileError{
				Field:   fmt.Sprintf("fields.%s.policy", name),
				Message: "policy requires privacy \"policy\"",
				Pos:     pv.Pos(),
			}
		}
		f.Privacy = ir.PrivacyPolicy
	}
	if fv := v.LookupPath(cue.ParsePath("formula")); fv.Exists() {
		if f.Formula, err = fv.Bool(); err != nil {
			return f, formatCUEError(err)
		}
	}
	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		if f.Default, err = toIR(dv); err != nil {
			return f, err
		}
	}
	return f, nil
}

// parseMessages extracts message types. Message fields are bare CUE types.
func parseMessages(v cue.Value) ([]ir.MessageSpec, error) {
	var messages []ir.MessageSpec

	msgVal := v.LookupPath(cue.ParsePath("messages"))
	if !msgVal.Exists() {
		return messages, nil
	}

	iter, err := msgVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		msg := ir.MessageSpec{Name: iter.Label()}

		fieldIter, err := iter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for fieldIter.Next() {
			fv := fieldIter.Value()
			// "client" and "asset" have no CUE kind and are named as strings.
			if s, err := fv.String(); err == nil && fv.IsConcrete() {
				if !ir.ValidTypes[ir.FieldType(s)] {
					return nil, &CompileError{
						Field:   fmt.Sprintf("messages.%s.%s", msg.Name, fieldIter.Label()),
						Message: fmt.Sprintf("invalid type %q", s),
						Pos:     fv.Pos(),
					}
				}
				msg.Fields = append(msg.Fields, ir.MessageField{Name: fieldIter.Label(), Type: ir.FieldType(s)})
				continue
			}
			typ, err := extractTypeName(fv)
			if err != nil {
				return nil, err
			}
			msg.Fields = append(msg.Fields, ir.MessageField{Name: fieldIter.Label(), Type: ir.FieldType(typ)})
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// parseChannels extracts channel declarations.
func parseChannels(v cue.Value) ([]ir.ChannelSpec, error) {
	var channels []ir.ChannelSpec

	chVal := v.LookupPath(cue.ParsePath("channels"))
	if !chVal.Exists() {
		return channels, nil
	}

	iter, err := chVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		cv := iter.Value()
		ch := ir.ChannelSpec{Name: name}

		msgVal := cv.LookupPath(cue.ParsePath("message"))
		if !msgVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("channels.%s.message", name),
				Message: "channel message type is required",
				Pos:     cv.Pos(),
			}
		}
		if ch.Message, err = msgVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		for opt, dst := range map[string]*bool{"direct": &ch.Direct, "array": &ch.Array} {
			if ov := cv.LookupPath(cue.ParsePath(opt)); ov.Exists() {
				if *dst, err = ov.Bool(); err != nil {
					return nil, formatCUEError(err)
				}
			}
		}

		channels = append(channels, ch)
	}

	return channels, nil
}

func parseLabels(v cue.Value) ([]string, error) {
	var labels []string

	lv := v.LookupPath(cue.ParsePath("labels"))
	if !lv.Exists() {
		return labels, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		labels = append(labels, s)
	}
	return labels, nil
}

// extractTypeName converts CUE type to IR type string.
// Floats are forbidden: document values are integers only.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// toIR converts a concrete CUE value to an IRValue.
func toIR(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			item, err := toIR(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			item, err := toIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = item
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: "default", Message: "float values are forbidden", Pos: v.Pos()}
	default:
		return nil, &CompileError{Field: "default", Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()), Pos: v.Pos()}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
