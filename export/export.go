// Package export runs a match query and streams the hits into one of the
// output formats.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/formats"
	"github.com/pteich/elastic-doc-client/logger"
	"github.com/pteich/elastic-doc-client/query"
	"github.com/pteich/elastic-doc-client/result"
)

const workers = 8

type Formatter interface {
	Run(context.Context, <-chan result.Hit) error
}

// Searcher is the part of client.Client used by Run.
type Searcher interface {
	Search(ctx context.Context, index string, q query.Query) (*result.SearchResult, error)
}

// BuildQuery turns the search flags into a query.
func BuildQuery(conf flags.SearchFlags) query.Query {
	q := query.Match(conf.Field, conf.Query)
	if conf.Operator != "" {
		q = q.WithOperator(conf.Operator)
	}
	if conf.Size > 0 {
		q = q.WithSize(conf.Size)
	}
	for _, field := range flags.SplitList(conf.Highlight) {
		q = q.WithHighlight(field, conf.PreTag, conf.PostTag)
	}
	return q
}

// Run searches conf.Index and writes the hits to conf.Outfile, stdout for "-".
// It returns the number of hits written.
func Run(ctx context.Context, c Searcher, conf flags.SearchFlags) (int, error) {
	log := logger.FromContext(ctx)

	if conf.Fieldlist != "" {
		conf.Fields = flags.SplitList(conf.Fieldlist)
	}

	res, err := c.Search(ctx, conf.Index, BuildQuery(conf))
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", conf.Index, err)
	}
	log.Info("search finished",
		zap.String("index", conf.Index),
		zap.Int64("total", res.Total),
		zap.String("relation", res.TotalRelation),
		zap.Int("hits", len(res.Hits)),
	)

	var outfile io.Writer
	if conf.Outfile == "" || conf.Outfile == "-" {
		outfile = os.Stdout
	} else {
		f, err := os.Create(conf.Outfile)
		if err != nil {
			return 0, fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		outfile = f
	}

	bar := pb.New(len(res.Hits)).SetWriter(os.Stderr).Start()
	defer bar.Finish()

	return len(res.Hits), write(ctx, res.Hits, newFormatter(conf, outfile, bar, log))
}

func newFormatter(conf flags.SearchFlags, out io.Writer, bar *pb.ProgressBar, log *zap.Logger) Formatter {
	switch conf.OutFormat {
	case flags.FormatJSON:
		return formats.JSON{
			Outfile:     out,
			ProgressBar: bar,
		}
	case flags.FormatRAW:
		return formats.Raw{
			Outfile:     out,
			ProgressBar: bar,
			Logger:      log,
		}
	default:
		return formats.CSV{
			Fields:      conf.Fields,
			Outfile:     out,
			Workers:     workers,
			ProgressBar: bar,
			Logger:      log,
		}
	}
}

// write feeds hits to output from a separate goroutine, the way a paging
// producer would.
func write(ctx context.Context, hits []result.Hit, output Formatter) error {
	g, ctx := errgroup.WithContext(ctx)

	ch := make(chan result.Hit)
	g.Go(func() error {
		defer close(ch)
		for _, hit := range hits {
			select {
			case ch <- hit:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		if err := output.Run(ctx, ch); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	})
	return g.Wait()
}
