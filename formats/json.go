package formats

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/result"
)

// JSON writes the source document of every hit as one line.
type JSON struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
}

func (j JSON) Run(ctx context.Context, hits <-chan result.Hit) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hit, ok := <-hits:
			if !ok {
				return nil
			}
			data, err := document.Encode(hit.Source)
			if err != nil {
				return fmt.Errorf("hit %s: %w", hit.ID, err)
			}
			if _, err := fmt.Fprintln(j.Outfile, string(data)); err != nil {
				return err
			}
			if j.ProgressBar != nil {
				j.ProgressBar.Increment()
			}
		}
	}
}
