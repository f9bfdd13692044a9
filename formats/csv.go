package formats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-doc-client/result"
)

var lineBreaks = regexp.MustCompile(`\x{000D}\x{000A}|[\x{000A}\x{000B}\x{000C}\x{000D}\x{0085}\x{2028}\x{2029}]`)

// CSV writes one row per hit. Fields selects the columns, nested fields are
// addressed with dotted names. Without Fields every top level field of the
// first hit becomes a column.
type CSV struct {
	Fields      []string
	Outfile     io.Writer
	Workers     int
	ProgressBar *pb.ProgressBar
	Logger      *zap.Logger
}

func (c CSV) Run(ctx context.Context, hits <-chan result.Hit) error {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	workers := max(c.Workers, 1)
	w := csv.NewWriter(c.Outfile)

	fields := c.Fields
	var first *result.Hit
	if len(fields) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hit, ok := <-hits:
			if !ok {
				return nil
			}
			first = &hit
		}
		for k := range first.Source {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	rows := make(chan []string, workers)
	if first != nil {
		rows <- row(*first, fields)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for hit := range hits {
				select {
				case rows <- row(hit, fields):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(rows)
	}()

	for r := range rows {
		if err := w.Write(r); err != nil {
			log.Error("writing CSV row", zap.Error(err))
		}
		w.Flush()
		if c.ProgressBar != nil {
			c.ProgressBar.Increment()
		}
	}
	w.Flush()

	if err := g.Wait(); err != nil {
		return err
	}
	return w.Error()
}

func row(hit result.Hit, fields []string) []string {
	flat := flatten(hit.Source.Map())
	out := make([]string, len(fields))
	for i, field := range fields {
		if field == "_id" {
			out[i] = hit.ID
			continue
		}
		out[i] = cell(flat[field])
	}
	return out
}

func cell(val interface{}) string {
	switch val := val.(type) {
	case nil:
		return ""
	case string:
		return removeLBR(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if d := int64(val); val == float64(d) {
			return strconv.FormatInt(d, 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = cell(item)
		}
		return strings.Join(parts, ",")
	default:
		return removeLBR(fmt.Sprintf("%v", val))
	}
}

// flatten adds a dotted key for every value below a nested object and keeps
// the nested objects themselves.
func flatten(document map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(document))
	for k, v := range document {
		out[k] = v
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(nested) {
				out[k+"."+nk] = nv
			}
		}
	}
	return out
}

func removeLBR(text string) string {
	return lineBreaks.ReplaceAllString(text, ``)
}
