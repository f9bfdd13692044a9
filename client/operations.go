package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/olivere/elastic/v7"

	"github.com/pteich/elastic-doc-client/document"
	elasticerr "github.com/pteich/elastic-doc-client/elastic"
	"github.com/pteich/elastic-doc-client/query"
	"github.com/pteich/elastic-doc-client/result"
	"github.com/pteich/elastic-doc-client/transport"
)

// Index stores doc. With an empty id the cluster generates one and every
// call creates a new document. With an explicit id the call is an upsert and
// repeating it leaves the same document behind.
func (c *Client) Index(ctx context.Context, index, typ, id string, doc document.Document) (*IndexResult, error) {
	const op = "index"
	if err := elasticerr.ValidateIndexName(index); err != nil {
		return nil, withContext(err, op, index, id)
	}
	body, err := document.Encode(doc)
	if err != nil {
		return nil, withContext(err, op, index, id)
	}

	res, err := c.do(ctx, elasticerr.Request{
		Op:      elasticerr.OpIndex,
		Index:   index,
		Type:    typ,
		ID:      id,
		Body:    body,
		Refresh: c.refresh,
	})
	if err != nil {
		return nil, withContext(err, op, index, id)
	}
	if res.IsError() {
		return nil, responseError(op, index, id, res)
	}
	return decodeWrite(op, index, c.docType(typ), id, res.Body)
}

// Get fetches a document. A missing document or index yields ErrNotFound.
func (c *Client) Get(ctx context.Context, index, typ, id string) (document.Document, error) {
	const op = "get"
	if err := validateTarget(index, id); err != nil {
		return nil, withContext(err, op, index, id)
	}

	res, err := c.do(transport.WithRetry(ctx), elasticerr.Request{
		Op:    elasticerr.OpGet,
		Index: index,
		Type:  typ,
		ID:    id,
	})
	if err != nil {
		return nil, withContext(err, op, index, id)
	}
	if res.IsError() {
		return nil, responseError(op, index, id, res)
	}

	var got elastic.GetResult
	if err := json.Unmarshal(res.Body, &got); err != nil {
		return nil, &elasticerr.Error{Kind: elasticerr.KindDecoding, Op: op, Index: index, ID: id, Err: err}
	}
	if !got.Found {
		return nil, &elasticerr.Error{Kind: elasticerr.KindNotFound, Op: op, Index: index, ID: id, Status: http.StatusNotFound, Reason: "document not found"}
	}

	doc, err := document.Decode(got.Source)
	if err != nil {
		return nil, withContext(err, op, index, id)
	}
	return doc, nil
}

// Update merges partial into an existing document. It fails with ErrNotFound
// and writes nothing when the document does not exist.
func (c *Client) Update(ctx context.Context, index, typ, id string, partial document.Document) (*IndexResult, error) {
	const op = "update"
	if err := validateTarget(index, id); err != nil {
		return nil, withContext(err, op, index, id)
	}
	body, err := document.Encode(document.Document{"doc": document.Object(partial)})
	if err != nil {
		return nil, withContext(err, op, index, id)
	}

	res, err := c.do(ctx, elasticerr.Request{
		Op:      elasticerr.OpUpdate,
		Index:   index,
		Type:    typ,
		ID:      id,
		Body:    body,
		Refresh: c.refresh,
	})
	if err != nil {
		return nil, withContext(err, op, index, id)
	}
	if res.IsError() {
		return nil, responseError(op, index, id, res)
	}
	return decodeWrite(op, index, c.docType(typ), id, res.Body)
}

// Delete removes a document. Deleting a missing document is not an error,
// the result carries StatusNotFound instead.
func (c *Client) Delete(ctx context.Context, index, typ, id string) (*IndexResult, error) {
	const op = "delete"
	if err := validateTarget(index, id); err != nil {
		return nil, withContext(err, op, index, id)
	}

	res, err := c.do(ctx, elasticerr.Request{
		Op:      elasticerr.OpDelete,
		Index:   index,
		Type:    typ,
		ID:      id,
		Refresh: c.refresh,
	})
	if err != nil {
		return nil, withContext(err, op, index, id)
	}
	if res.StatusCode == http.StatusNotFound {
		return &IndexResult{Index: index, Type: typ, ID: id, Status: StatusNotFound}, nil
	}
	if res.IsError() {
		return nil, responseError(op, index, id, res)
	}
	return decodeWrite(op, index, c.docType(typ), id, res.Body)
}

// Search runs q against index and assembles hits with the fragments of every
// highlighted field.
func (c *Client) Search(ctx context.Context, index string, q query.Query) (*result.SearchResult, error) {
	const op = "search"
	if err := elasticerr.ValidateIndexName(index); err != nil {
		return nil, withContext(err, op, index, "")
	}
	body, err := q.Body()
	if err != nil {
		return nil, &elasticerr.Error{Kind: elasticerr.KindEncoding, Op: op, Index: index, Err: err}
	}

	res, err := c.do(transport.WithRetry(ctx), elasticerr.Request{
		Op:    elasticerr.OpSearch,
		Index: index,
		Body:  body,
	})
	if err != nil {
		return nil, withContext(err, op, index, "")
	}
	if res.IsError() {
		return nil, responseError(op, index, "", res)
	}

	out, err := result.Assemble(res.Body, q.HighlightFields())
	if err != nil {
		return nil, withContext(err, op, index, "")
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, req elasticerr.Request) (elasticerr.Response, error) {
	return c.dialect.Do(ctx, c.conn, req)
}

func validateTarget(index, id string) error {
	if err := elasticerr.ValidateIndexName(index); err != nil {
		return err
	}
	if id == "" {
		return elasticerr.Errorf(elasticerr.KindValidation, "validate", "document id must not be empty")
	}
	return nil
}
