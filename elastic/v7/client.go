package v7

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pteich/elastic-doc-client/elastic"
)

const defaultType = "_doc"

// Dialect speaks the 7.x API, which still accepts a mapping type in document
// paths: /{index}/{type}/{id}.
type Dialect struct{}

var _ elastic.Dialect = Dialect{}

func (Dialect) Version() int {
	return 7
}

func (Dialect) Do(ctx context.Context, t elastic.Transport, req elastic.Request) (elastic.Response, error) {
	typ := req.Type
	if typ == "" {
		typ = defaultType
	}

	var (
		method   string
		segments []string
		body     []byte
	)

	switch req.Op {
	case elastic.OpIndex:
		body = req.Body
		if req.ID == "" {
			method = http.MethodPost
			segments = []string{req.Index, typ}
		} else {
			method = http.MethodPut
			segments = []string{req.Index, typ, req.ID}
		}
	case elastic.OpGet:
		method = http.MethodGet
		segments = []string{req.Index, typ, req.ID}
	case elastic.OpUpdate:
		method = http.MethodPost
		segments = []string{req.Index, typ, req.ID, "_update"}
		body = req.Body
	case elastic.OpDelete:
		method = http.MethodDelete
		segments = []string{req.Index, typ, req.ID}
	case elastic.OpSearch:
		method = http.MethodPost
		segments = []string{req.Index, "_search"}
		body = req.Body
	default:
		return elastic.Response{}, elastic.Errorf(elastic.KindValidation, string(req.Op), "unsupported operation")
	}

	params := url.Values{}
	if req.Refresh != "" && req.Op != elastic.OpGet && req.Op != elastic.OpSearch {
		params.Set("refresh", req.Refresh)
	}

	httpReq, err := newRequest(ctx, method, segments, params, body)
	if err != nil {
		return elastic.Response{}, elastic.NewError(elastic.KindValidation, string(req.Op), err)
	}

	res, err := t.Perform(httpReq)
	if err != nil {
		return elastic.Response{}, err
	}
	return elastic.ReadResponse(res.StatusCode, res.Header, res.Body)
}

func newRequest(ctx context.Context, method string, segments []string, params url.Values, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, "/", reader)
	if err != nil {
		return nil, err
	}

	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	req.URL = &url.URL{
		Path:     "/" + strings.Join(segments, "/"),
		RawPath:  "/" + strings.Join(escaped, "/"),
		RawQuery: params.Encode(),
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
