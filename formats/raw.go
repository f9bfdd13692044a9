package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/result"
)

// Raw writes every hit with its metadata and highlight fragments as one
// JSON line.
type Raw struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
	Logger      *zap.Logger
}

type rawHit struct {
	Index     string              `json:"_index"`
	Type      string              `json:"_type,omitempty"`
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

func (r Raw) Run(ctx context.Context, hits <-chan result.Hit) error {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for hit := range hits {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := document.Encode(hit.Source)
		if err != nil {
			log.Warn("skipping hit", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		data, err := json.Marshal(rawHit{
			Index:     hit.Index,
			Type:      hit.Type,
			ID:        hit.ID,
			Score:     hit.Score,
			Source:    src,
			Highlight: hit.Highlights,
		})
		if err != nil {
			log.Warn("skipping hit", zap.String("id", hit.ID), zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintln(r.Outfile, string(data)); err != nil {
			return err
		}
		if r.ProgressBar != nil {
			r.ProgressBar.Increment()
		}
	}
	// When the hits channel is closed, exit the loop gracefully.
	return nil
}
