// Package seed bulk loads JSON lines files into an index with a pool of
// concurrent index requests.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/logger"
)

const (
	defaultWorkers = 4
	maxLineSize    = 10 * 1024 * 1024
)

type Indexer interface {
	Index(ctx context.Context, index, typ, id string, doc document.Document) (*client.IndexResult, error)
	Refresh(ctx context.Context, index string) error
}

type Stats struct {
	Created int64
	Updated int64
	Partial int64
}

func (s Stats) Total() int64 {
	return s.Created + s.Updated
}

type line struct {
	number int
	doc    document.Document
}

// ReadLines decodes one document per non-empty line of r.
func ReadLines(r io.Reader) ([]document.Document, error) {
	var docs []document.Document

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		doc, err := document.Decode(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}

// Run loads conf.File, stdin for "-", into conf.Index and refreshes the
// index once all documents are written. The first failed write stops the
// remaining workers.
func Run(ctx context.Context, c Indexer, conf flags.SeedFlags) (Stats, error) {
	var in io.Reader = os.Stdin
	if conf.File != "" && conf.File != "-" {
		f, err := os.Open(conf.File)
		if err != nil {
			return Stats{}, fmt.Errorf("opening input file: %w", err)
		}
		defer f.Close()
		in = f
	}

	docs, err := ReadLines(in)
	if err != nil {
		return Stats{}, err
	}

	bar := pb.New(len(docs)).SetWriter(os.Stderr).Start()
	defer bar.Finish()

	return Load(ctx, c, conf, docs, bar)
}

// Load indexes docs. bar may be nil.
func Load(ctx context.Context, c Indexer, conf flags.SeedFlags, docs []document.Document, bar *pb.ProgressBar) (Stats, error) {
	log := logger.FromContext(ctx)

	workers := conf.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var created, updated, partial atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan line)

	g.Go(func() error {
		defer close(lines)
		for i, doc := range docs {
			select {
			case lines <- line{number: i + 1, doc: doc}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for l := range lines {
				id := idOf(l.doc, conf.IDField)
				res, err := c.Index(gctx, conf.Index, conf.Type, id, l.doc)
				if err != nil {
					return fmt.Errorf("line %d: %w", l.number, err)
				}

				switch res.Status {
				case client.StatusCreated:
					created.Add(1)
				default:
					updated.Add(1)
				}
				if res.Partial() {
					partial.Add(1)
					log.Warn("write not applied on all shards",
						zap.String("index", res.Index),
						zap.String("id", res.ID),
						zap.Int("failed", res.Shards.Failed),
					)
				}
				if bar != nil {
					bar.Increment()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	stats := Stats{Created: created.Load(), Updated: updated.Load(), Partial: partial.Load()}
	if err != nil {
		return stats, err
	}

	if err := c.Refresh(ctx, conf.Index); err != nil {
		return stats, fmt.Errorf("refresh %s: %w", conf.Index, err)
	}

	log.Info("seed finished",
		zap.String("index", conf.Index),
		zap.Int64("created", stats.Created),
		zap.Int64("updated", stats.Updated),
		zap.Int64("partial", stats.Partial),
	)
	return stats, nil
}

// idOf returns the value of a top level string or integer field.
func idOf(doc document.Document, field string) string {
	if field == "" {
		return ""
	}
	v, ok := doc.Get(field)
	if !ok {
		return ""
	}
	switch v.Kind() {
	case document.KindString:
		return v.Str()
	case document.KindInt:
		return fmt.Sprintf("%d", v.Int())
	default:
		return ""
	}
}
