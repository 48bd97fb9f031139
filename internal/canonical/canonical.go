// Package canonical produces a byte-stable serialization of JSON-like
// values. Two values with identical logical content serialize to identical
// bytes regardless of the order their map keys were supplied in, which is
// what makes a signature over an address book reproducible.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Marshal renders v as a canonical JSON string. Map keys are sorted
// lexicographically, array order is preserved, primitives use their
// standard JSON literal form.
func Marshal(v interface{}) (string, error) {
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// MarshalJSON canonicalizes a raw JSON document. Numbers pass through as
// written (json.Number) so integer literals are never re-rendered as
// floats.
func MarshalJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", errors.Wrap(err, "invalid JSON document")
	}
	// Trailing content after the first value is not a single document.
	if dec.More() {
		return "", errors.New("trailing content after JSON document")
	}
	return Marshal(v)
}

func encode(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return errors.Wrap(err, "encoding string")
		}
		sb.Write(b)
	case json.Number:
		sb.WriteString(val.String())
	case float64:
		b, err := json.Marshal(val)
		if err != nil {
			return errors.Wrap(err, "encoding number")
		}
		sb.Write(b)
	case int:
		fmt.Fprintf(sb, "%d", val)
	case int64:
		fmt.Fprintf(sb, "%d", val)
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encode(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return errors.Wrap(err, "encoding map key")
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := encode(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return encode(sb, m)
	default:
		return errors.Errorf("unsupported value type %T", v)
	}
	return nil
}
