// Package result turns raw search responses into ordered hits carrying
// decoded source documents and highlight fragments.
package result

import (
	"encoding/json"
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/pteich/elastic-doc-client/document"
	elasticerr "github.com/pteich/elastic-doc-client/elastic"
)

const (
	RelationEqual      = "eq"
	RelationLowerBound = "gte"
)

type Hit struct {
	Index      string
	Type       string
	ID         string
	Score      float64
	Source     document.Document
	Highlights map[string][]string
}

// Fragments returns the highlight fragments of field, empty if none.
func (h Hit) Fragments(field string) []string {
	if f, ok := h.Highlights[field]; ok {
		return f
	}
	return []string{}
}

// SearchResult holds the first page of hits. Total is the count reported by
// the cluster and may be a lower bound when TotalRelation is "gte".
type SearchResult struct {
	Hits          []Hit
	Total         int64
	TotalRelation string
	MaxScore      float64
	TookMillis    int64
	TimedOut      bool
}

// Assemble decodes a search response. Every field in highlightFields gets an
// entry in Hit.Highlights, empty when the field did not match in that hit.
func Assemble(raw []byte, highlightFields []string) (*SearchResult, error) {
	var res elastic.SearchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, elasticerr.NewError(elasticerr.KindDecoding, "assemble", err)
	}

	out := &SearchResult{
		TookMillis:    res.TookInMillis,
		TimedOut:      res.TimedOut,
		TotalRelation: RelationEqual,
	}
	if res.Hits == nil {
		return out, nil
	}
	if res.Hits.TotalHits != nil {
		out.Total = res.Hits.TotalHits.Value
		if res.Hits.TotalHits.Relation != "" {
			out.TotalRelation = res.Hits.TotalHits.Relation
		}
	}
	if res.Hits.MaxScore != nil {
		out.MaxScore = *res.Hits.MaxScore
	}

	out.Hits = make([]Hit, 0, len(res.Hits.Hits))
	for i, h := range res.Hits.Hits {
		hit, err := assembleHit(h, highlightFields)
		if err != nil {
			return nil, elasticerr.NewError(elasticerr.KindDecoding, "assemble", fmt.Errorf("hit %d (%s): %w", i, h.Id, err))
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

func assembleHit(h *elastic.SearchHit, highlightFields []string) (Hit, error) {
	hit := Hit{
		Index:      h.Index,
		Type:       h.Type,
		ID:         h.Id,
		Highlights: make(map[string][]string, len(highlightFields)),
	}
	if h.Score != nil {
		hit.Score = *h.Score
	}

	if len(h.Source) > 0 && string(h.Source) != "null" {
		src, err := document.Decode(h.Source)
		if err != nil {
			return Hit{}, err
		}
		hit.Source = src
	} else {
		hit.Source = document.Document{}
	}

	for _, f := range highlightFields {
		hit.Highlights[f] = []string{}
	}
	for f, fragments := range h.Highlight {
		hit.Highlights[f] = append([]string{}, fragments...)
	}
	return hit, nil
}
