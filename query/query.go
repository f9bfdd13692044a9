// Package query describes match queries with highlighting. A Query is an
// immutable value: every With method returns a modified copy, so a base query
// can be shared between unrelated searches.
package query

import (
	"encoding/json"

	"github.com/olivere/elastic/v7"
)

const (
	DefaultPreTag  = "<em>"
	DefaultPostTag = "</em>"
)

// Highlight asks for fragments of one field wrapped in PreTag and PostTag.
type Highlight struct {
	Field   string
	PreTag  string
	PostTag string
}

type Query struct {
	field      string
	text       string
	operator   string
	size       int
	highlights []Highlight
}

// Match builds a full-text match query of text against field.
func Match(field, text string) Query {
	return Query{field: field, text: text}
}

func (q Query) Field() string { return q.field }
func (q Query) Text() string { return q.text }
func (q Query) Size() int { return q.size }

// WithHighlight adds a highlight directive. Empty tags fall back to
// DefaultPreTag and DefaultPostTag. A second directive for the same field
// replaces the first.
func (q Query) WithHighlight(field, preTag, postTag string) Query {
	if preTag == "" {
		preTag = DefaultPreTag
	}
	if postTag == "" {
		postTag = DefaultPostTag
	}

	out := q.clone()
	h := Highlight{Field: field, PreTag: preTag, PostTag: postTag}
	for i := range out.highlights {
		if out.highlights[i].Field == field {
			out.highlights[i] = h
			return out
		}
	}
	out.highlights = append(out.highlights, h)
	return out
}

// WithOperator sets the boolean operator ("or", "and") between analyzed terms.
func (q Query) WithOperator(op string) Query {
	out := q.clone()
	out.operator = op
	return out
}

// WithSize limits the number of returned hits. Zero keeps the cluster default.
func (q Query) WithSize(n int) Query {
	out := q.clone()
	out.size = n
	return out
}

// Highlights returns a copy of the highlight directives in the order they were added.
func (q Query) Highlights() []Highlight {
	return append([]Highlight(nil), q.highlights...)
}

// HighlightFields lists the highlighted field names.
func (q Query) HighlightFields() []string {
	fields := make([]string, len(q.highlights))
	for i, h := range q.highlights {
		fields[i] = h.Field
	}
	return fields
}

func (q Query) clone() Query {
	out := q
	out.highlights = append([]Highlight(nil), q.highlights...)
	return out
}

// Source renders the search request body.
func (q Query) Source() (map[string]any, error) {
	mq := elastic.NewMatchQuery(q.field, q.text)
	if q.operator != "" {
		mq = mq.Operator(q.operator)
	}

	ss := elastic.NewSearchSource().Query(mq).TrackTotalHits(true)
	if q.size > 0 {
		ss = ss.Size(q.size)
	}
	if len(q.highlights) > 0 {
		hl := elastic.NewHighlight()
		for _, h := range q.highlights {
			hl = hl.Fields(elastic.NewHighlighterField(h.Field).PreTags(h.PreTag).PostTags(h.PostTag))
		}
		ss = ss.Highlight(hl)
	}

	src, err := ss.Source()
	if err != nil {
		return nil, err
	}
	// Round trip through JSON so callers get plain maps.
	data, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Body renders the search request body as JSON.
func (q Query) Body() ([]byte, error) {
	src, err := q.Source()
	if err != nil {
		return nil, err
	}
	return json.Marshal(src)
}
