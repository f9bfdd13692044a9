package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pteich/elastic-doc-client/elastic"
)

// Encode writes d as compact JSON with object keys in sorted order, so
// documents with equal fields always produce identical bytes.
func Encode(d Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, Object(d), ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeValue is Encode for a single value.
func EncodeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a JSON object. Integral numbers become ints, other numbers
// floats and strings in the timestamp form written by Encode become dates.
func Decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, elastic.NewError(elastic.KindDecoding, "decode", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, elastic.Errorf(elastic.KindDecoding, "decode", "unexpected data after top level object")
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, elastic.Errorf(elastic.KindDecoding, "decode", "top level value must be an object, got %T", raw)
	}

	v, err := decoded(m)
	if err != nil {
		return nil, err
	}
	return v.obj, nil
}

func decoded(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return stringValue(x), nil
	case json.Number:
		return numberValue(x)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := decoded(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := decoded(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	default:
		return Value{}, elastic.Errorf(elastic.KindDecoding, "decode", "unexpected JSON value %T", raw)
	}
}

func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, elastic.NewError(elastic.KindDecoding, "decode", err)
	}
	return Float(f), nil
}

// stringValue detects dates in exactly the layout Encode produces.
func stringValue(s string) Value {
	if len(s) >= 20 && strings.HasSuffix(s, "Z") {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil && formatDate(t) == s {
			return Date(t)
		}
	}
	return String(s)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func writeValue(buf *bytes.Buffer, v Value, path string) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		return writeString(buf, v.str, path)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.num, 10))
	case KindFloat:
		if math.IsNaN(v.flt) || math.IsInf(v.flt, 0) {
			return encodingError(path, "float %v has no JSON representation", v.flt)
		}
		s := strconv.FormatFloat(v.flt, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindDate:
		if y := v.t.UTC().Year(); y < 0 || y > 9999 {
			return encodingError(path, "date year %d is outside 0000-9999", y)
		}
		buf.WriteByte('"')
		buf.WriteString(formatDate(v.t))
		buf.WriteByte('"')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range sortedKeys(v.obj) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k, join(path, k)); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, v.obj[k], join(path, k)); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return encodingError(path, "invalid value kind %d", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s, path string) error {
	if !utf8.ValidString(s) {
		return encodingError(path, "string is not valid UTF-8")
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return encodingError(path, "%v", err)
	}
	// Encoder terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func encodingError(path, format string, args ...any) error {
	e := elastic.Errorf(elastic.KindEncoding, "encode", format, args...)
	if path != "" {
		e.Reason = "field " + path + ": " + e.Reason
	}
	return e
}
