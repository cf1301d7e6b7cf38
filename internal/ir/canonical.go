package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
//
// Every byte the engine persists or pushes to a viewer goes through here, so
// two documents with equal state always serialize to equal bytes:
//  1. object keys sorted by UTF-16 code units
//  2. no HTML escaping
//  3. strings NFC normalized
//  4. no floats
//
// null is allowed; merge patches depend on it.
func MarshalCanonical(v IRValue) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Canonical is MarshalCanonical for values known to be well formed.
// It panics on the impossible case of an unknown IRValue implementation.
func Canonical(v IRValue) string {
	b, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func writeCanonical(buf *bytes.Buffer, v IRValue) error {
	switch val := v.(type) {
	case nil, IRNull:
		buf.WriteString("null")
	case IRString:
		return writeCanonicalString(buf, string(val))
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported IRValue %T", v)
	}
	return nil
}

// writeCanonicalString escapes only quote, backslash and control characters.
// encoding/json escapes U+2028 and U+2029 for JavaScript embedding, which
// RFC 8785 forbids, so those two are written back literally.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})

	for len(out) > 0 {
		i := bytes.IndexByte(out, '\\')
		if i < 0 {
			buf.Write(out)
			return nil
		}
		buf.Write(out[:i])
		if i+1 < len(out) && out[i+1] == 'u' && i+6 <= len(out) {
			switch string(out[i+2 : i+6]) {
			case "2028":
				buf.WriteString("\u2028")
				out = out[i+6:]
				continue
			case "2029":
				buf.WriteString("\u2029")
				out = out[i+6:]
				continue
			}
		}
		// Copy the escape pair verbatim so an escaped backslash is never
		// mistaken for the start of a U+2028 escape.
		end := i + 2
		if end > len(out) {
			end = len(out)
		}
		buf.Write(out[i:end])
		out = out[end:]
	}
	return nil
}
