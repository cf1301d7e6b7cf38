package ir

import (
	"fmt"
	"strings"
)

// FieldType is the declared type of a document field or message field.
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
	TypeAsset  FieldType = "asset"
	TypeClient FieldType = "client"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// ValidTypes lists the accepted field types. There is no float.
var ValidTypes = map[FieldType]bool{
	TypeInt:    true,
	TypeString: true,
	TypeBool:   true,
	TypeAsset:  true,
	TypeClient: true,
	TypeObject: true,
	TypeArray:  true,
}

// Privacy controls who may observe a field through a private view.
type Privacy string

const (
	// PrivacyPublic fields are visible to every viewer.
	PrivacyPublic Privacy = "public"
	// PrivacyPrivate fields are never sent to viewers.
	PrivacyPrivate Privacy = "private"
	// PrivacyPolicy fields are visible when the named policy admits the viewer.
	PrivacyPolicy Privacy = "policy"
	// PrivacyBubble fields are computed per viewer and never stored.
	PrivacyBubble Privacy = "bubble"
)

// FieldSpec describes one document field.
type FieldSpec struct {
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Default IRValue   `json:"default,omitempty"`
	Privacy Privacy   `json:"privacy"`
	Policy  string    `json:"policy,omitempty"`
	// Formula fields are recomputed every transaction and never persisted.
	Formula bool `json:"formula,omitempty"`
}

// Stored reports whether the field lives in the snapshot.
func (f FieldSpec) Stored() bool {
	return !f.Formula && f.Privacy != PrivacyBubble
}

// Zero returns the field's default, or the zero value of its type.
func (f FieldSpec) Zero() IRValue {
	if f.Default != nil {
		return DropNulls(f.Default)
	}
	return ZeroValue(f.Type)
}

// MessageField is one field of a message type.
type MessageField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// MessageSpec describes a message type carried by channels.
type MessageSpec struct {
	Name   string         `json:"name"`
	Fields []MessageField `json:"fields"`
}

// Coerce checks a payload against the message type. Missing fields take the
// zero value of their type; unknown fields and null object members are
// dropped.
func (m MessageSpec) Coerce(v IRValue) (IRObject, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("message %s must be an object, got %s", m.Name, KindOf(v))
	}
	out := make(IRObject, len(m.Fields))
	for _, f := range m.Fields {
		fv, present := obj[f.Name]
		if !present || KindOf(fv) == KindNull {
			out[f.Name] = ZeroValue(f.Type)
			continue
		}
		if !Conforms(f.Type, fv) {
			return nil, fmt.Errorf("message %s field %s: expected %s, got %s", m.Name, f.Name, f.Type, KindOf(fv))
		}
		out[f.Name] = DropNulls(fv)
	}
	return out, nil
}

// ChannelSpec describes an inbound channel.
type ChannelSpec struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	// Array channels carry a list of messages per send.
	Array bool `json:"array,omitempty"`
	// Direct channels run a handler on arrival. Other channels only queue
	// messages for await.
	Direct bool `json:"direct,omitempty"`
}

// StaticSpec carries document-wide static policies.
type StaticSpec struct {
	// BlindSend lets disconnected clients send, subject to the program's
	// blind send policy.
	BlindSend bool `json:"blind_send,omitempty"`
}

// SchemaSpec is the compiled shape of a document.
type SchemaSpec struct {
	Name     string        `json:"name"`
	Fields   []FieldSpec   `json:"fields"`
	Messages []MessageSpec `json:"messages,omitempty"`
	Channels []ChannelSpec `json:"channels,omitempty"`
	Labels   []string      `json:"labels,omitempty"`
	Static   StaticSpec    `json:"static"`
}

// Field looks up a field by name.
func (s *SchemaSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Channel looks up a channel by name.
func (s *SchemaSpec) Channel(name string) (ChannelSpec, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelSpec{}, false
}

// Message looks up a message type by name.
func (s *SchemaSpec) Message(name string) (MessageSpec, bool) {
	for _, m := range s.Messages {
		if m.Name == name {
			return m, true
		}
	}
	return MessageSpec{}, false
}

// ValidationError is a schema problem located by field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the schema and returns every problem found.
func (s *SchemaSpec) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.Name == "" {
		add("name", "schema name is required")
	}

	seen := make(map[string]bool)
	for i, f := range s.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		switch {
		case f.Name == "":
			add(path+".name", "field name is required")
		case strings.HasPrefix(f.Name, "__"):
			add(path+".name", "field %q uses the reserved __ prefix", f.Name)
		case seen[f.Name]:
			add(path+".name", "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !ValidTypes[f.Type] {
			add(path+".type", "invalid type %q", f.Type)
		}
		if f.Default != nil && !Conforms(f.Type, f.Default) {
			add(path+".default", "default is %s, field is %s", KindOf(f.Default), f.Type)
		}
		switch f.Privacy {
		case PrivacyPublic, PrivacyPrivate, PrivacyBubble:
		case PrivacyPolicy:
			if f.Policy == "" {
				add(path+".policy", "policy privacy requires a policy name")
			}
		default:
			add(path+".privacy", "invalid privacy %q", f.Privacy)
		}
		if f.Formula && f.Privacy == PrivacyBubble {
			add(path, "a field cannot be both formula and bubble")
		}
	}

	messages := make(map[string]bool)
	for i, m := range s.Messages {
		if messages[m.Name] {
			add(fmt.Sprintf("messages[%d].name", i), "duplicate message %q", m.Name)
		}
		messages[m.Name] = true
		for j, f := range m.Fields {
			if !ValidTypes[f.Type] {
				add(fmt.Sprintf("messages[%d].fields[%d].type", i, j), "invalid type %q", f.Type)
			}
		}
	}

	channels := make(map[string]bool)
	for i, c := range s.Channels {
		path := fmt.Sprintf("channels[%d]", i)
		if channels[c.Name] {
			add(path+".name", "duplicate channel %q", c.Name)
		}
		channels[c.Name] = true
		if !messages[c.Message] {
			add(path+".message", "unknown message type %q", c.Message)
		}
	}

	labels := make(map[string]bool)
	for i, l := range s.Labels {
		if labels[l] {
			add(fmt.Sprintf("labels[%d]", i), "duplicate label %q", l)
		}
		labels[l] = true
	}

	return errs
}

// ZeroValue returns the zero value for a field type.
func ZeroValue(t FieldType) IRValue {
	switch t {
	case TypeInt:
		return IRInt(0)
	case TypeString:
		return IRString("")
	case TypeBool:
		return IRBool(false)
	case TypeArray:
		return IRArray{}
	case TypeClient:
		return NoOne.Object()
	case TypeAsset:
		return IRObject{"id": IRString("")}
	default:
		return IRObject{}
	}
}

// Conforms reports whether v is a legal value for type t.
func Conforms(t FieldType, v IRValue) bool {
	switch t {
	case TypeInt:
		_, ok := v.(IRInt)
		return ok
	case TypeString:
		_, ok := v.(IRString)
		return ok
	case TypeBool:
		_, ok := v.(IRBool)
		return ok
	case TypeArray:
		_, ok := v.(IRArray)
		return ok
	case TypeClient:
		_, err := ClientFrom(v)
		return err == nil
	case TypeAsset, TypeObject:
		_, ok := v.(IRObject)
		return ok
	default:
		return false
	}
}
