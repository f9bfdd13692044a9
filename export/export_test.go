package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/document"
	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/internal/fakecluster"
	"github.com/pteich/elastic-doc-client/query"
	"github.com/pteich/elastic-doc-client/result"
)

func TestExportE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	tests := []struct {
		version int
		image   string
	}{
		{version: 7, image: "docker.elastic.co/elasticsearch/elasticsearch:7.17.10"},
		{version: 8, image: "docker.elastic.co/elasticsearch/elasticsearch:8.17.0"},
		{version: 9, image: "docker.elastic.co/elasticsearch/elasticsearch:9.2.3"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Elasticsearch_v%d", tt.version), func(t *testing.T) {
			ctx := context.Background()

			esContainer, err := elasticsearch.Run(ctx, tt.image,
				testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
					ContainerRequest: testcontainers.ContainerRequest{
						Env: map[string]string{
							"discovery.type":         "single-node",
							"xpack.security.enabled": "false",
						},
					},
				}),
			)
			if err != nil {
				t.Fatalf("failed to start container: %s", err)
			}
			defer func() {
				if err := esContainer.Terminate(ctx); err != nil {
					t.Fatalf("failed to terminate container: %s", err)
				}
			}()

			c := newClient(t, esContainer.Settings.Address)
			seedData(t, c)

			outFileName := filepath.Join(t.TempDir(), fmt.Sprintf("test_output_v%d.csv", tt.version))
			n, err := Run(ctx, c, flags.SearchFlags{
				Index:     "test-index",
				Field:     "message",
				Query:     "test message",
				OutFormat: flags.FormatCSV,
				Outfile:   outFileName,
				Fieldlist: "_id,message,id",
			})
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			verifyOutput(t, outFileName, 3)
		})
	}
}

func TestExport(t *testing.T) {
	for _, v := range []string{"7.17.10", "8.17.0", "9.2.3"} {
		t.Run("v"+v, func(t *testing.T) {
			cluster := fakecluster.New(t, fakecluster.WithVersion(v))
			c := newClient(t, cluster.URLs()[0])
			seedData(t, c)

			outFileName := filepath.Join(t.TempDir(), "out.csv")
			n, err := Run(context.Background(), c, flags.SearchFlags{
				Index:     "test-index",
				Field:     "message",
				Query:     "message",
				OutFormat: flags.FormatCSV,
				Outfile:   outFileName,
				Fieldlist: "_id,message,id",
			})
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			data, err := os.ReadFile(outFileName)
			require.NoError(t, err)
			assert.Equal(t, "_id,message,id\n"+
				"1,test message 1,1\n"+
				"2,test message 2,2\n"+
				"3,test message 3,3\n", string(data))
		})
	}
}

func TestExportFormats(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster.URLs()[0])
	seedData(t, c)

	for _, format := range []string{flags.FormatJSON, flags.FormatRAW} {
		t.Run(format, func(t *testing.T) {
			outFileName := filepath.Join(t.TempDir(), "out."+format)
			n, err := Run(context.Background(), c, flags.SearchFlags{
				Index:     "test-index",
				Field:     "message",
				Query:     "message 2",
				Operator:  "and",
				Highlight: "message",
				OutFormat: format,
				Outfile:   outFileName,
			})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			verifyOutput(t, outFileName, 1)
		})
	}
}

func TestExportSearchError(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster.URLs()[0])

	_, err := Run(context.Background(), c, flags.SearchFlags{
		Index:   "missing",
		Field:   "message",
		Query:   "x",
		Outfile: filepath.Join(t.TempDir(), "out.csv"),
	})
	require.Error(t, err)
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(flags.SearchFlags{
		Field:     "about",
		Query:     "rock climbing",
		Operator:  "and",
		Size:      5,
		Highlight: "about, title",
		PreTag:    "<b>",
		PostTag:   "</b>",
	})

	want := query.Match("about", "rock climbing").
		WithOperator("and").
		WithSize(5).
		WithHighlight("about", "<b>", "</b>").
		WithHighlight("title", "<b>", "</b>")
	wantBody, err := want.Body()
	require.NoError(t, err)
	body, err := q.Body()
	require.NoError(t, err)
	assert.JSONEq(t, string(wantBody), string(body))
}

type failingFormatter struct{}

func (failingFormatter) Run(ctx context.Context, hits <-chan result.Hit) error {
	<-hits
	return errors.New("disk full")
}

func TestWriteStopsProducerOnFormatterError(t *testing.T) {
	hits := make([]result.Hit, 100)
	err := write(context.Background(), hits, failingFormatter{})
	assert.ErrorContains(t, err, "disk full")
}

func newClient(t *testing.T, endpoint string) *client.Client {
	t.Helper()

	c, err := client.New(context.Background(), client.Config{
		Endpoints: []string{endpoint},
		Refresh:   client.RefreshWaitFor,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func seedData(t *testing.T, c *client.Client) {
	t.Helper()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		doc, err := document.FromJSON(fmt.Sprintf(`{"@timestamp": "2023-01-01T00:00:0%dZ", "message": "test message %d", "id": %d}`, i, i, i))
		require.NoError(t, err)
		_, err = c.Index(ctx, "test-index", "_doc", fmt.Sprintf("%d", i), doc)
		require.NoError(t, err)
	}

	require.NoError(t, c.Refresh(ctx, "test-index"))
}

func verifyOutput(t *testing.T, filename string, expectedLines int) {
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read output file: %s", err)
	}

	lines := bytes.Count(data, []byte("\n"))
	// CSV header + expectedLines
	if filepath.Ext(filename) == ".csv" {
		expectedLines++
	}
	if lines != expectedLines {
		t.Errorf("expected %d lines in output, got %d", expectedLines, lines)
	}
}
