// Package canonical produces deterministic JSON bytes for audit-log hashing.
//
// Two writers hashing the same logical payload must produce identical bytes,
// so object keys are sorted and numbers/strings are re-encoded through
// encoding/json rather than trusted verbatim from the caller.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v: object keys sorted
// lexicographically, arrays left in order, scalars encoded via encoding/json.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalFromJSON re-canonicalizes raw JSON bytes (parse-then-serialize),
// the form used when a payload arrives already marshaled (e.g. from a
// json.RawMessage request body).
func MarshalFromJSON(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return Marshal(nil)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: decode raw json: %w", err)
	}
	return Marshal(v)
}

func encode(buf *bytes.Buffer, v any) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(vv.String())
	case float64:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(b)
	case string:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Struct, slice-of-struct, etc: round-trip through encoding/json with
		// UseNumber so nested maps/numbers land in the cases above.
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Errorf("canonical: marshal fallback: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var tmp any
		if err := dec.Decode(&tmp); err != nil {
			return fmt.Errorf("canonical: decode fallback: %w", err)
		}
		return encode(buf, tmp)
	}
	return nil
}
