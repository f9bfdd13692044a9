package v8

import (
	"bytes"
	"context"
	"io"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/pteich/elastic-doc-client/elastic"
)

// Dialect speaks the typeless 8.x document API through esapi. Type names are
// not part of the path.
type Dialect struct{}

var _ elastic.Dialect = Dialect{}

func (Dialect) Version() int {
	return 8
}

func (Dialect) Do(ctx context.Context, t elastic.Transport, req elastic.Request) (elastic.Response, error) {
	var (
		res *esapi.Response
		err error
	)

	switch req.Op {
	case elastic.OpIndex:
		r := esapi.IndexRequest{
			Index:      req.Index,
			DocumentID: req.ID,
			Body:       bytes.NewReader(req.Body),
			Refresh:    req.Refresh,
		}
		res, err = r.Do(ctx, t)
	case elastic.OpGet:
		r := esapi.GetRequest{
			Index:      req.Index,
			DocumentID: req.ID,
		}
		res, err = r.Do(ctx, t)
	case elastic.OpUpdate:
		r := esapi.UpdateRequest{
			Index:      req.Index,
			DocumentID: req.ID,
			Body:       bytes.NewReader(req.Body),
			Refresh:    req.Refresh,
		}
		res, err = r.Do(ctx, t)
	case elastic.OpDelete:
		r := esapi.DeleteRequest{
			Index:      req.Index,
			DocumentID: req.ID,
			Refresh:    req.Refresh,
		}
		res, err = r.Do(ctx, t)
	case elastic.OpSearch:
		r := esapi.SearchRequest{
			Index: []string{req.Index},
			Body:  bytes.NewReader(req.Body),
		}
		res, err = r.Do(ctx, t)
	default:
		return elastic.Response{}, elastic.Errorf(elastic.KindValidation, string(req.Op), "unsupported operation")
	}
	if err != nil {
		return elastic.Response{}, err
	}

	body := res.Body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return elastic.ReadResponse(res.StatusCode, res.Header, body)
}
