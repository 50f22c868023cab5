package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for a change payload.
// This is the only serialization used for content-hash computation, so the
// same logical payload always produces identical bytes.
//
// Rules:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are emitted verbatim)
//  3. Strings are NFC normalized
//  4. Floats and nulls are rejected (Validation error) - payload values
//     must be strings, integers, booleans, arrays, or objects, so that the
//     hash is stable across JSON decoders
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return canonicalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case json.Number:
		// Accept only integral numbers; anything with a fraction or
		// exponent has no canonical form we are willing to commit to.
		if n, err := val.Int64(); err == nil {
			return []byte(fmt.Sprintf("%d", n)), nil
		}
		return nil, NewValidation(fmt.Sprintf("non-integer number %q in changes payload", val))
	case []any:
		return canonicalArray(val)
	case map[string]any:
		return canonicalObject(val)
	case nil:
		return nil, NewValidation("null is forbidden in changes payload")
	case float32, float64:
		return nil, NewValidation(fmt.Sprintf("float %v is forbidden in changes payload", val))
	default:
		return nil, NewValidation(fmt.Sprintf("unsupported type %T in changes payload", v))
	}
}

func canonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func canonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// RFC 8785 requires UTF-16 code unit ordering, which differs from
	// byte ordering for characters outside the BMP.
	sort.Slice(keys, func(i, j int) bool {
		return lessUTF16(keys[i], keys[j])
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := canonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// canonicalString emits a JSON string with NFC normalization and without
// HTML escaping. Go's encoder escapes U+2028/U+2029 for JavaScript
// compatibility; RFC 8785 forbids that, so those sequences are unescaped
// after encoding.
func canonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites \u2028 and \u2029 escape sequences to the
// literal characters per RFC 8785. A sequence preceded by an odd number of
// backslashes is an escaped backslash followed by literal "u2028" text and
// must be left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] == '\\' && i+6 <= len(data) &&
			bytes.HasPrefix(data[i:], []byte(`\u202`)) &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 6
				continue
			}
		}
		out = append(out, data[i])
		i++
	}
	return out
}

// lessUTF16 compares two strings by UTF-16 code units per RFC 8785.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
