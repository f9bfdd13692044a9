package document

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/pteich/elastic-doc-client/elastic"
)

// Builder assembles a document field by field. The first invalid field is
// reported by Build.
type Builder struct {
	fields Document
	err    error
}

func NewBuilder() *Builder {
	return &Builder{fields: Document{}}
}

// Field sets name to value. value may be any type accepted by FromMap.
func (b *Builder) Field(name string, value any) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.err = encodingError("", "empty field name")
		return b
	}
	v, err := valueOf(value, name)
	if err != nil {
		b.err = err
		return b
	}
	b.fields[name] = v
	return b
}

// Object starts a nested object under name and fills it with fn.
func (b *Builder) Object(name string, fn func(*Builder)) *Builder {
	if b.err != nil {
		return b
	}
	nested := NewBuilder()
	fn(nested)
	if nested.err != nil {
		b.err = nested.err
		return b
	}
	b.fields[name] = Object(nested.fields)
	return b
}

func (b *Builder) Build() (Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.fields.Clone(), nil
}

// FromJSON parses pre-formed JSON text.
func FromJSON(raw string) (Document, error) {
	return Decode([]byte(raw))
}

// FromMap converts a generic key/value mapping. Supported values are nil,
// strings, bools, all integer and float types, json.Number, time.Time, Value,
// Document and maps with string keys or slices of those.
func FromMap(m map[string]any) (Document, error) {
	d := make(Document, len(m))
	for k, raw := range m {
		v, err := valueOf(raw, k)
		if err != nil {
			return nil, err
		}
		d[k] = v
	}
	return d, nil
}

// FromStruct converts a struct through its JSON encoding, honouring json tags.
func FromStruct(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, elastic.NewError(elastic.KindEncoding, "encode", err)
	}
	d, err := Decode(data)
	if err != nil {
		return nil, elastic.NewError(elastic.KindEncoding, "encode", fmt.Errorf("%T is not an object: %w", v, err))
	}
	return d, nil
}

func valueOf(raw any, path string) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return cloneValue(x), nil
	case Document:
		return Object(x.Clone()), nil
	case string:
		return stringValue(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		return uintValue(uint64(x), path)
	case uint64:
		return uintValue(x, path)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		v, err := numberValue(x)
		if err != nil {
			return Value{}, encodingError(path, "invalid number %q", x.String())
		}
		return v, nil
	case time.Time:
		return Date(x), nil
	case *time.Time:
		if x == nil {
			return Null(), nil
		}
		return Date(*x), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := valueOf(item, join(path, k))
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	case []any:
		return arrayOf(len(x), func(i int) any { return x[i] }, path)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return valueOf(rv.Elem().Interface(), path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		return arrayOf(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, encodingError(path, "map key type %s is not a string", rv.Type().Key())
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			v, err := valueOf(iter.Value().Interface(), join(path, k))
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Object(fields), nil
	case reflect.String:
		return stringValue(rv.String()), nil
	}
	return Value{}, encodingError(path, "type %T has no wire representation", raw)
}

func uintValue(u uint64, path string) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, encodingError(path, "unsigned value %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func arrayOf(n int, at func(int) any, path string) (Value, error) {
	items := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := valueOf(at(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return Value{}, err
		}
		items[i] = v
	}
	return Array(items...), nil
}
