package v7

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteich/elastic-doc-client/elastic"
)

type recorder struct {
	reqs []*http.Request
	body []string
}

func (r *recorder) Perform(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	r.reqs = append(r.reqs, req)
	r.body = append(r.body, body)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"acknowledged":true}`)),
	}, nil
}

func TestDialectPaths(t *testing.T) {
	tests := []struct {
		name       string
		req        elastic.Request
		wantMethod string
		wantPath   string
		wantQuery  string
	}{
		{
			name:       "index with id",
			req:        elastic.Request{Op: elastic.OpIndex, Index: "msg", Type: "tweet", ID: "1", Body: []byte(`{}`)},
			wantMethod: http.MethodPut,
			wantPath:   "/msg/tweet/1",
		},
		{
			name:       "index without id",
			req:        elastic.Request{Op: elastic.OpIndex, Index: "msg", Type: "tweet", Body: []byte(`{}`), Refresh: "wait_for"},
			wantMethod: http.MethodPost,
			wantPath:   "/msg/tweet",
			wantQuery:  "refresh=wait_for",
		},
		{
			name:       "get default type",
			req:        elastic.Request{Op: elastic.OpGet, Index: "msg", ID: "1", Refresh: "true"},
			wantMethod: http.MethodGet,
			wantPath:   "/msg/_doc/1",
		},
		{
			name:       "update",
			req:        elastic.Request{Op: elastic.OpUpdate, Index: "msg", Type: "tweet", ID: "1", Body: []byte(`{"doc":{}}`)},
			wantMethod: http.MethodPost,
			wantPath:   "/msg/tweet/1/_update",
		},
		{
			name:       "delete",
			req:        elastic.Request{Op: elastic.OpDelete, Index: "msg", Type: "tweet", ID: "1", Refresh: "true"},
			wantMethod: http.MethodDelete,
			wantPath:   "/msg/tweet/1",
			wantQuery:  "refresh=true",
		},
		{
			name:       "search",
			req:        elastic.Request{Op: elastic.OpSearch, Index: "megacorp", Body: []byte(`{"query":{}}`)},
			wantMethod: http.MethodPost,
			wantPath:   "/megacorp/_search",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			res, err := Dialect{}.Do(context.Background(), rec, tt.req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, res.StatusCode)

			require.Len(t, rec.reqs, 1)
			got := rec.reqs[0]
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.Equal(t, tt.wantPath, got.URL.Path)
			assert.Equal(t, tt.wantQuery, got.URL.RawQuery)
			assert.Equal(t, string(tt.req.Body), rec.body[0])
			if tt.req.Body != nil {
				assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
			}
		})
	}
}

func TestDialectEscapesSegments(t *testing.T) {
	rec := &recorder{}
	_, err := Dialect{}.Do(context.Background(), rec, elastic.Request{Op: elastic.OpGet, Index: "msg", ID: "a/b c"})
	require.NoError(t, err)

	assert.Equal(t, "/msg/_doc/a%2Fb%20c", rec.reqs[0].URL.EscapedPath())
}

func TestDialectUnsupportedOp(t *testing.T) {
	_, err := Dialect{}.Do(context.Background(), &recorder{}, elastic.Request{Op: "reindex", Index: "msg"})
	assert.ErrorIs(t, err, elastic.ErrValidation)
}

func TestDialectVersion(t *testing.T) {
	assert.Equal(t, 7, Dialect{}.Version())
}
