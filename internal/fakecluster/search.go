package fakecluster

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

const defaultSize = 10

type searchRequest struct {
	Query struct {
		Match map[string]json.RawMessage `json:"match"`
	} `json:"query"`
	Size      *int `json:"size"`
	Highlight struct {
		PreTags  []string `json:"pre_tags"`
		PostTags []string `json:"post_tags"`
		Fields   map[string]struct {
			PreTags  []string `json:"pre_tags"`
			PostTags []string `json:"post_tags"`
		} `json:"fields"`
	} `json:"highlight"`
}

type matchClause struct {
	field    string
	terms    map[string]bool
	operator string
}

func (c *Cluster) handleSearch(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", "failed to parse search source")
		return
	}
	clause, ok := parseMatch(req.Query.Match)
	if !ok {
		writeError(w, http.StatusBadRequest, "parsing_exception", "only a single match query is supported")
		return
	}
	size := defaultSize
	if req.Size != nil {
		size = *req.Size
	}

	c.mu.Lock()
	docs, exists := c.indices[index]
	type scored struct {
		id    string
		typ   string
		score float64
		src   map[string]any
	}
	var matched []scored
	for id, doc := range docs {
		if score := clause.score(doc.source); score > 0 {
			matched = append(matched, scored{id: id, typ: doc.typ, score: score, src: deepCopy(doc.source)})
		}
	}
	c.mu.Unlock()

	if !exists {
		writeIndexNotFound(w, index)
		return
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].id < matched[j].id
	})

	hits := make([]map[string]any, 0, min(size, len(matched)))
	maxScore := 0.0
	for i, m := range matched {
		if i >= size {
			break
		}
		maxScore = max(maxScore, m.score)
		hit := c.meta(index, m.typ, m.id)
		hit["_score"] = m.score
		hit["_source"] = m.src

		highlight := map[string]any{}
		for field, opts := range req.Highlight.Fields {
			pre := firstOr(opts.PreTags, firstOr(req.Highlight.PreTags, "<em>"))
			post := firstOr(opts.PostTags, firstOr(req.Highlight.PostTags, "</em>"))
			if fragments := clause.highlight(m.src, field, pre, post); len(fragments) > 0 {
				highlight[field] = fragments
			}
		}
		if len(highlight) > 0 {
			hit["highlight"] = highlight
		}
		hits = append(hits, hit)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"_shards":   map[string]any{"total": 1, "successful": 1, "skipped": 0, "failed": 0},
		"hits": map[string]any{
			"total":     map[string]any{"value": len(matched), "relation": "eq"},
			"max_score": maxScore,
			"hits":      hits,
		},
	})
}

func parseMatch(match map[string]json.RawMessage) (matchClause, bool) {
	if len(match) != 1 {
		return matchClause{}, false
	}
	for field, raw := range match {
		clause := matchClause{field: field, operator: "or"}

		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			var obj struct {
				Query    string `json:"query"`
				Operator string `json:"operator"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				return matchClause{}, false
			}
			text = obj.Query
			if obj.Operator != "" {
				clause.operator = strings.ToLower(obj.Operator)
			}
		}

		clause.terms = map[string]bool{}
		for _, tok := range tokenize(text) {
			clause.terms[strings.ToLower(tok.text)] = true
		}
		return clause, true
	}
	return matchClause{}, false
}

// score counts the distinct query terms found in the matched field.
func (m matchClause) score(src map[string]any) float64 {
	found := map[string]bool{}
	for _, s := range fieldStrings(src[m.field]) {
		for _, tok := range tokenize(s) {
			if t := strings.ToLower(tok.text); m.terms[t] {
				found[t] = true
			}
		}
	}
	if m.operator == "and" && len(found) < len(m.terms) {
		return 0
	}
	return float64(len(found))
}

// highlight wraps every query term in field. Like the default
// require_field_match, only the queried field is highlighted.
func (m matchClause) highlight(src map[string]any, field, pre, post string) []string {
	if field != m.field {
		return nil
	}
	var fragments []string
	for _, s := range fieldStrings(src[field]) {
		var b strings.Builder
		last, hit := 0, false
		for _, tok := range tokenize(s) {
			if !m.terms[strings.ToLower(tok.text)] {
				continue
			}
			b.WriteString(s[last:tok.start])
			b.WriteString(pre)
			b.WriteString(tok.text)
			b.WriteString(post)
			last = tok.end
			hit = true
		}
		if hit {
			b.WriteString(s[last:])
			fragments = append(fragments, b.String())
		}
	}
	return fragments
}

func fieldStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

type token struct {
	text       string
	start, end int
}

// tokenize splits on everything that is not a letter or digit.
func tokenize(s string) []token {
	var (
		tokens []token
		start  = -1
	)
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			tokens = append(tokens, token{text: s[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: s[start:], start: start, end: len(s)})
	}
	return tokens
}

func firstOr(values []string, def string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return def
}
