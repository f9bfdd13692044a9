package client

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/olivere/elastic/v7"

	elasticerr "github.com/pteich/elastic-doc-client/elastic"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusDeleted  Status = "deleted"
	StatusNotFound Status = "not_found"
	StatusNoop     Status = "noop"
)

// ShardInfo summarizes how many shard copies acknowledged a write.
type ShardInfo struct {
	Total      int
	Successful int
	Failed     int
}

// IndexResult is the outcome of a write operation.
type IndexResult struct {
	Index   string
	Type    string
	ID      string
	Version int64
	Status  Status
	Shards  ShardInfo
}

// Partial reports whether at least one shard copy failed to apply the write
// while the primary accepted it.
func (r *IndexResult) Partial() bool {
	return r.Shards.Failed > 0
}

func decodeWrite(op, index, typ, id string, body []byte) (*IndexResult, error) {
	var res elastic.IndexResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &elasticerr.Error{Kind: elasticerr.KindDecoding, Op: op, Index: index, ID: id, Err: err}
	}

	out := &IndexResult{
		Index:   res.Index,
		Type:    res.Type,
		ID:      res.Id,
		Version: res.Version,
		Status:  Status(res.Result),
	}
	if out.Index == "" {
		out.Index = index
	}
	if out.Type == "" {
		out.Type = typ
	}
	if out.ID == "" {
		out.ID = id
	}
	if res.Shards != nil {
		out.Shards = ShardInfo{
			Total:      res.Shards.Total,
			Successful: res.Shards.Successful,
			Failed:     res.Shards.Failed,
		}
	}
	return out, nil
}

// responseError maps an error status onto the error taxonomy, keeping the
// reason reported by the cluster.
func responseError(op, index, id string, res elasticerr.Response) error {
	e := &elasticerr.Error{
		Kind:   elasticerr.KindCluster,
		Op:     op,
		Index:  index,
		ID:     id,
		Status: res.StatusCode,
	}
	switch res.StatusCode {
	case http.StatusNotFound:
		e.Kind = elasticerr.KindNotFound
	case http.StatusConflict:
		e.Kind = elasticerr.KindConflict
	}

	var body elastic.Error
	if err := json.Unmarshal(res.Body, &body); err == nil && body.Details != nil {
		e.Reason = body.Details.Type + ": " + body.Details.Reason
	} else if e.Kind == elasticerr.KindNotFound {
		e.Reason = "document not found"
	} else {
		e.Reason = http.StatusText(res.StatusCode)
	}
	return e
}

// withContext attaches operation context to an error raised below the
// dispatcher while keeping its kind.
func withContext(err error, op, index, id string) error {
	var e *elasticerr.Error
	if !errors.As(err, &e) {
		return &elasticerr.Error{Kind: elasticerr.KindNetwork, Op: op, Index: index, ID: id, Err: err}
	}
	return &elasticerr.Error{
		Kind:   e.Kind,
		Op:     op,
		Index:  index,
		ID:     id,
		Status: e.Status,
		Reason: e.Reason,
		Err:    err,
	}
}
