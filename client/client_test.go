package client

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/elastic"
	elasticv7 "github.com/pteich/elastic-doc-client/elastic/v7"
	elasticv8 "github.com/pteich/elastic-doc-client/elastic/v8"
	elasticv9 "github.com/pteich/elastic-doc-client/elastic/v9"
	"github.com/pteich/elastic-doc-client/internal/fakecluster"
	"github.com/pteich/elastic-doc-client/query"
)

var versions = []string{"7.17.10", "8.17.0", "9.2.3"}

func newClient(t *testing.T, cluster *fakecluster.Cluster) *Client {
	t.Helper()

	c, err := New(context.Background(), Config{
		Endpoints: cluster.URLs(),
		Refresh:   RefreshTrue,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func mustDoc(t *testing.T, raw string) document.Document {
	t.Helper()
	d, err := document.FromJSON(raw)
	require.NoError(t, err)
	return d
}

func forEachVersion(t *testing.T, fn func(t *testing.T, cluster *fakecluster.Cluster, c *Client)) {
	for _, v := range versions {
		t.Run("v"+v, func(t *testing.T) {
			cluster := fakecluster.New(t, fakecluster.WithVersion(v))
			fn(t, cluster, newClient(t, cluster))
		})
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		number       string
		distribution string
		want         int
	}{
		{"6.8.23", "", 7},
		{"7.17.10", "", 7},
		{"8.17.0", "", 8},
		{"9.2.3", "", 9},
		{"10.0.0", "", 9},
		{"", "", 8},
		{"2.11.0", "opensearch", 8},
	}
	for _, tt := range tests {
		t.Run(tt.number+tt.distribution, func(t *testing.T) {
			var info elastic.ClusterInfo
			info.Version.Number = tt.number
			info.Version.Distribution = tt.distribution
			assert.Equal(t, tt.want, DialectFor(info).Version())
		})
	}
}

func TestNewSelectsDialect(t *testing.T) {
	want := map[string]elastic.Dialect{
		"7.17.10": elasticv7.Dialect{},
		"8.17.0":  elasticv8.Dialect{},
		"9.2.3":   elasticv9.Dialect{},
	}
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		assert.Equal(t, want[c.Info().Version.Number], c.Dialect())
	})
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), Config{Endpoints: []string{"localhost"}, Refresh: "sometimes"})
	assert.ErrorIs(t, err, elastic.ErrValidation)

	_, err = New(context.Background(), Config{})
	assert.ErrorIs(t, err, elastic.ErrValidation)
}

func TestDocumentLifecycle(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		ctx := context.Background()

		doc, err := document.NewBuilder().Field("userName", "Zhang San").Field("msg", "hello").Build()
		require.NoError(t, err)

		res, err := c.Index(ctx, "msg", "tweet", "1", doc)
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, res.Status)
		assert.Equal(t, "msg", res.Index)
		assert.Equal(t, "1", res.ID)
		assert.Equal(t, int64(1), res.Version)
		assert.False(t, res.Partial())
		wantType := "tweet"
		if cluster.Major() >= 8 {
			wantType = "_doc"
		}
		assert.Equal(t, wantType, res.Type)

		got, err := c.Get(ctx, "msg", "tweet", "1")
		require.NoError(t, err)
		assert.True(t, doc.Equal(got), "got %v", got.Map())

		res, err = c.Update(ctx, "msg", "tweet", "1", mustDoc(t, `{"userName":"Wang Wu"}`))
		require.NoError(t, err)
		assert.Equal(t, StatusUpdated, res.Status)
		assert.Equal(t, int64(2), res.Version)
		assert.Equal(t, wantType, res.Type)

		got, err = c.Get(ctx, "msg", "tweet", "1")
		require.NoError(t, err)
		assert.True(t, mustDoc(t, `{"userName":"Wang Wu","msg":"hello"}`).Equal(got), "got %v", got.Map())

		res, err = c.Delete(ctx, "msg", "tweet", "1")
		require.NoError(t, err)
		assert.Equal(t, StatusDeleted, res.Status)
		assert.Equal(t, wantType, res.Type)

		_, err = c.Get(ctx, "msg", "tweet", "1")
		assert.ErrorIs(t, err, elastic.ErrNotFound)

		res, err = c.Delete(ctx, "msg", "tweet", "1")
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, res.Status)
	})
}

func TestDocType(t *testing.T) {
	tests := []struct {
		dialect elastic.Dialect
		typ     string
		want    string
	}{
		{elasticv7.Dialect{}, "tweet", "tweet"},
		{elasticv7.Dialect{}, "", "_doc"},
		{elasticv8.Dialect{}, "tweet", "_doc"},
		{elasticv9.Dialect{}, "tweet", "_doc"},
		{elasticv9.Dialect{}, "", "_doc"},
	}
	for _, tt := range tests {
		c := &Client{dialect: tt.dialect}
		assert.Equal(t, tt.want, c.docType(tt.typ), "v%d %q", tt.dialect.Version(), tt.typ)
	}
}

func TestIndexWithIDIsIdempotent(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		doc := mustDoc(t, `{"title":"same"}`)

		first, err := c.Index(context.Background(), "posts", "", "42", doc)
		require.NoError(t, err)
		second, err := c.Index(context.Background(), "posts", "", "42", doc)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, StatusUpdated, second.Status)
		assert.Equal(t, 1, cluster.Count("posts"))

		stored, ok := cluster.Stored("posts", "42")
		require.True(t, ok)
		assert.Equal(t, "same", stored["title"])
	})
}

func TestIndexWithoutIDCreatesNewDocuments(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		doc := mustDoc(t, `{"title":"same"}`)

		first, err := c.Index(context.Background(), "posts", "", "", doc)
		require.NoError(t, err)
		second, err := c.Index(context.Background(), "posts", "", "", doc)
		require.NoError(t, err)

		assert.NotEmpty(t, first.ID)
		assert.NotEmpty(t, second.ID)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, StatusCreated, second.Status)
		assert.Equal(t, 2, cluster.Count("posts"))
	})
}

func TestGetNotFound(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		_, err := c.Get(context.Background(), "msg", "", "never")
		assert.ErrorIs(t, err, elastic.ErrNotFound)

		_, err = c.Index(context.Background(), "msg", "", "1", mustDoc(t, `{"a":1}`))
		require.NoError(t, err)

		_, err = c.Get(context.Background(), "msg", "", "never")
		require.ErrorIs(t, err, elastic.ErrNotFound)

		var e *elastic.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "get", e.Op)
		assert.Equal(t, "msg", e.Index)
		assert.Equal(t, "never", e.ID)
		assert.Equal(t, http.StatusNotFound, e.Status)
	})
}

func TestUpdateMissingDocumentWritesNothing(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		_, err := c.Index(context.Background(), "msg", "", "1", mustDoc(t, `{"a":1}`))
		require.NoError(t, err)

		_, err = c.Update(context.Background(), "msg", "", "2", mustDoc(t, `{"a":2}`))
		assert.ErrorIs(t, err, elastic.ErrNotFound)

		assert.Equal(t, 1, cluster.Count("msg"))
		_, ok := cluster.Stored("msg", "2")
		assert.False(t, ok)
	})
}

func TestUpdateNoop(t *testing.T) {
	forEachVersion(t, func(t *testing.T, cluster *fakecluster.Cluster, c *Client) {
		_, err := c.Index(context.Background(), "msg", "", "1", mustDoc(t, `{"a":1,"b":{"c":true}}`))
		require.NoError(t, err)

		res, err := c.Update(context.Background(), "msg", "", "1", mustDoc(t, `{"b":{"c":true}}`))
		require.NoError(t, err)
		assert.Equal(t, StatusNoop, res.Status)
		assert.Equal(t, int64(1), res.Version)
	})
}

func TestValidationFailsBeforeSending(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)
	ctx := context.Background()
	doc := mustDoc(t, `{"a":1}`)

	_, err := c.Index(ctx, "MegaCorp", "", "1", doc)
	assert.ErrorIs(t, err, elastic.ErrValidation)
	_, err = c.Get(ctx, "Msg", "", "1")
	assert.ErrorIs(t, err, elastic.ErrValidation)
	_, err = c.Get(ctx, "msg", "", "")
	assert.ErrorIs(t, err, elastic.ErrValidation)
	_, err = c.Update(ctx, "", "", "1", doc)
	assert.ErrorIs(t, err, elastic.ErrValidation)
	_, err = c.Delete(ctx, "msg", "", "")
	assert.ErrorIs(t, err, elastic.ErrValidation)
	_, err = c.Search(ctx, "Upper", query.Match("a", "b"))
	assert.ErrorIs(t, err, elastic.ErrValidation)
	err = c.Refresh(ctx, "_all")
	assert.ErrorIs(t, err, elastic.ErrValidation)

	_, err = c.Index(ctx, "msg", "", "1", document.Document{"score": document.Float(math.NaN())})
	assert.ErrorIs(t, err, elastic.ErrEncoding)

	assert.Empty(t, cluster.Requests())
}

func TestPartialShardFailure(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)
	cluster.SetShardFailures(1)

	res, err := c.Index(context.Background(), "msg", "", "1", mustDoc(t, `{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, res.Status)
	assert.True(t, res.Partial())
	assert.Equal(t, ShardInfo{Total: 3, Successful: 1, Failed: 1}, res.Shards)
}

func TestClusterErrors(t *testing.T) {
	cluster := fakecluster.New(t, fakecluster.WithVersion("8.17.0"))
	c := newClient(t, cluster)

	_, err := c.Search(context.Background(), "missing", query.Match("about", "rock"))
	require.ErrorIs(t, err, elastic.ErrNotFound)
	assert.Contains(t, err.Error(), "index_not_found_exception")

	err = c.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, elastic.ErrNotFound)
}

func TestReadsRetryWritesDoNot(t *testing.T) {
	cluster := fakecluster.New(t, fakecluster.WithNodes(2))
	c := newClient(t, cluster)
	ctx := context.Background()

	_, err := c.Index(ctx, "msg", "", "1", mustDoc(t, `{"a":1}`))
	require.NoError(t, err)

	// advance the round robin so that node 0 is picked next
	_, err = c.Get(ctx, "msg", "", "1")
	require.NoError(t, err)

	cluster.Node(0).SetDropping(true)
	got, err := c.Get(ctx, "msg", "", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["a"].Int())

	cluster.Node(0).SetDropping(false)
	cluster.Node(1).SetDropping(true)
	_, err = c.Index(ctx, "msg", "", "2", mustDoc(t, `{"a":2}`))
	require.ErrorIs(t, err, elastic.ErrNetwork)
	assert.True(t, elastic.IsTransient(err))
	assert.Equal(t, 1, cluster.Count("msg"))
}

func TestCloseCancels(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)
	c.Close()

	_, err := c.Get(context.Background(), "msg", "", "1")
	assert.ErrorIs(t, err, elastic.ErrCancelled)
}

func TestConcurrentWrites(t *testing.T) {
	cluster := fakecluster.New(t, fakecluster.WithNodes(3))
	c := newClient(t, cluster)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			doc, err := document.NewBuilder().Field("n", i).Build()
			if err != nil {
				return err
			}
			_, err = c.Index(ctx, "counter", "", fmt.Sprint(i), doc)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 30, cluster.Count("counter"))
}
