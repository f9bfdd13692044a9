package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/elastic"
	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/internal/fakecluster"
	"github.com/pteich/elastic-doc-client/logger"
)

const employees = `{"id":"1","first_name":"John","about":"I love to go rock climbing","interests":["sports","music"]}
{"id":"2","first_name":"Jane","about":"I like to collect rock albums","interests":["music"]}

{"id":"3","first_name":"Douglas","about":"I like to build cabinets","interests":["forestry"]}
`

func newClient(t *testing.T, cluster *fakecluster.Cluster) *client.Client {
	t.Helper()

	c, err := client.New(context.Background(), client.Config{
		Endpoints: cluster.URLs(),
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestReadLines(t *testing.T) {
	docs, err := ReadLines(strings.NewReader(employees))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "Douglas", docs[2]["first_name"].Str())

	_, err = ReadLines(strings.NewReader("{\"a\":1}\n[1,2]\n"))
	assert.ErrorContains(t, err, "line 2")
	assert.ErrorIs(t, err, elastic.ErrDecoding)
}

func TestRun(t *testing.T) {
	for _, v := range []string{"7.17.10", "8.17.0", "9.2.3"} {
		t.Run("v"+v, func(t *testing.T) {
			cluster := fakecluster.New(t, fakecluster.WithVersion(v))
			c := newClient(t, cluster)

			file := filepath.Join(t.TempDir(), "employees.json")
			require.NoError(t, os.WriteFile(file, []byte(employees), 0o600))

			ctx := logger.WithContext(context.Background(), zaptest.NewLogger(t))
			stats, err := Run(ctx, c, flags.SeedFlags{
				Index:   "megacorp",
				Type:    "employee",
				File:    file,
				IDField: "id",
				Workers: 2,
			})
			require.NoError(t, err)
			assert.Equal(t, Stats{Created: 3}, stats)

			stored, ok := cluster.Stored("megacorp", "2")
			require.True(t, ok)
			assert.Equal(t, "Jane", stored["first_name"])

			last := cluster.Requests()[len(cluster.Requests())-1]
			assert.Equal(t, "/megacorp/_refresh", last.Path)
		})
	}
}

func TestLoadTwiceUpdates(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)

	docs, err := ReadLines(strings.NewReader(employees))
	require.NoError(t, err)

	conf := flags.SeedFlags{Index: "megacorp", IDField: "id"}
	_, err = Load(context.Background(), c, conf, docs, nil)
	require.NoError(t, err)

	stats, err := Load(context.Background(), c, conf, docs, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Updated)
	assert.Equal(t, int64(3), stats.Total())
	assert.Equal(t, 3, cluster.Count("megacorp"))
}

func TestLoadGeneratedIDs(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)

	docs, err := ReadLines(strings.NewReader(employees))
	require.NoError(t, err)

	conf := flags.SeedFlags{Index: "megacorp", Workers: 8}
	for i := 0; i < 2; i++ {
		_, err = Load(context.Background(), c, conf, docs, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, cluster.Count("megacorp"))
}

func TestLoadPartial(t *testing.T) {
	cluster := fakecluster.New(t)
	cluster.SetShardFailures(1)
	c := newClient(t, cluster)

	docs, err := ReadLines(strings.NewReader(employees))
	require.NoError(t, err)

	stats, err := Load(context.Background(), c, flags.SeedFlags{Index: "megacorp", IDField: "id"}, docs, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Partial)
}

func TestLoadStopsOnError(t *testing.T) {
	cluster := fakecluster.New(t)
	c := newClient(t, cluster)

	docs, err := ReadLines(strings.NewReader(employees))
	require.NoError(t, err)

	_, err = Load(context.Background(), c, flags.SeedFlags{Index: "Bad Index"}, docs, nil)
	assert.ErrorIs(t, err, elastic.ErrValidation)
	assert.Empty(t, cluster.Requests())
}

func TestIDOf(t *testing.T) {
	docs, err := ReadLines(strings.NewReader(`{"s":"abc","n":42,"f":1.5}`))
	require.NoError(t, err)

	assert.Equal(t, "abc", idOf(docs[0], "s"))
	assert.Equal(t, "42", idOf(docs[0], "n"))
	assert.Empty(t, idOf(docs[0], "f"))
	assert.Empty(t, idOf(docs[0], "missing"))
	assert.Empty(t, idOf(docs[0], ""))
}
