package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gosuda/auditchain/internal/domain"
)

// Canonicalize serializes a JSON-representable value into its canonical form:
// object keys sorted bytewise, no insignificant whitespace, no HTML escaping,
// and a fixed rendering for numbers. Structurally equal values produce equal
// bytes regardless of how their maps were built.
//
// A json.RawMessage is decoded and re-encoded, which is how stored payloads
// are re-canonicalized during verification.
func Canonicalize(v any) ([]byte, error) {
	var data []byte
	switch val := v.(type) {
	case json.RawMessage:
		data = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("audit.Canonicalize: %w: %w", domain.ErrInvalidInput, err)
		}
		data = b
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("audit.Canonicalize: %w: decode: %w", domain.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("audit.Canonicalize: %w: trailing data after value", domain.ErrInvalidInput)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, raw); err != nil {
		return nil, fmt.Errorf("audit.Canonicalize: %w: %w", domain.ErrInvalidInput, err)
	}

	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		n, err := canonicalNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value of type %T", v)
	}
	return nil
}

// writeString encodes s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

// canonicalNumber keeps integer literals verbatim (so large integers survive
// untouched) and renders everything else through float64 with the shortest
// round-trip representation. 1, 1.0 and 1e0 all become "1".
func canonicalNumber(n json.Number) (string, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0", nil
		}
		return s, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("number %q: %w", s, err)
	}
	if f == 0 {
		return "0", nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
