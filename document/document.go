// Package document holds the client side representation of a stored
// document and its JSON codec.
//
// Three ways of authoring a document converge on the same tree and
// therefore on the same wire bytes: the field Builder, raw JSON text
// (FromJSON) and a generic map (FromMap).
package document

// Document maps top level field names to values.
type Document map[string]Value

func (d Document) Get(field string) (Value, bool) {
	v, ok := d[field]
	return v, ok
}

func (d Document) Equal(o Document) bool {
	return equalFields(d, o)
}

// Map converts the document to plain Go values, see Value.Interface.
func (d Document) Map() map[string]any {
	return Object(d).Interface().(map[string]any)
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge applies partial on top of d the way a partial update does: nested
// objects merge recursively, every other value replaces the old one. d is
// left untouched.
func (d Document) Merge(partial Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, pv := range partial {
		if old, ok := out[k]; ok && old.kind == KindObject && pv.kind == KindObject {
			out[k] = Object(Document(old.obj).Merge(pv.obj))
			continue
		}
		out[k] = cloneValue(pv)
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindObject:
		return Object(Document(v.obj).Clone())
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = cloneValue(item)
		}
		return Array(items...)
	default:
		return v
	}
}
