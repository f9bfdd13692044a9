// Package client is the document operation dispatcher. A Client validates
// its arguments, encodes documents, sends requests through a
// transport.Connector in the dialect of the connected cluster and maps
// responses onto results or typed errors.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pteich/elastic-doc-client/elastic"
	elasticv7 "github.com/pteich/elastic-doc-client/elastic/v7"
	elasticv8 "github.com/pteich/elastic-doc-client/elastic/v8"
	elasticv9 "github.com/pteich/elastic-doc-client/elastic/v9"
	"github.com/pteich/elastic-doc-client/transport"
)

// Refresh policies for write operations.
const (
	RefreshNone    = ""
	RefreshTrue    = "true"
	RefreshWaitFor = "wait_for"
)

type Config struct {
	Endpoints           []string
	Username            string
	Password            string
	VerifySSL           bool
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	MaxConnsPerEndpoint int
	Selector            transport.Selector
	Refresh             string
	Logger              *zap.Logger
	Registerer          prometheus.Registerer
}

type Client struct {
	conn    *transport.Connector
	dialect elastic.Dialect
	refresh string
}

// New connects to the configured endpoints and selects the request dialect
// from the version reported by the cluster.
func New(ctx context.Context, cfg Config) (*Client, error) {
	switch cfg.Refresh {
	case RefreshNone, RefreshTrue, RefreshWaitFor, "false":
	default:
		return nil, elastic.Errorf(elastic.KindValidation, "new client", "unknown refresh policy %q", cfg.Refresh)
	}

	endpoints, err := elastic.ParseEndpoints(cfg.Endpoints...)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Connect(ctx, transport.Config{
		Endpoints:           endpoints,
		Username:            cfg.Username,
		Password:            cfg.Password,
		VerifySSL:           cfg.VerifySSL,
		ConnectTimeout:      cfg.ConnectTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		MaxConnsPerEndpoint: cfg.MaxConnsPerEndpoint,
		Selector:            cfg.Selector,
		Logger:              cfg.Logger,
		Registerer:          cfg.Registerer,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:    conn,
		dialect: DialectFor(conn.Info()),
		refresh: cfg.Refresh,
	}, nil
}

// DialectFor picks the request dialect for a cluster. OpenSearch and
// unknown versions use the typeless 8.x paths.
func DialectFor(info elastic.ClusterInfo) elastic.Dialect {
	if strings.EqualFold(info.Version.Distribution, "opensearch") {
		return elasticv8.Dialect{}
	}
	switch major := info.Major(); {
	case major == 0:
		return elasticv8.Dialect{}
	case major <= 7:
		return elasticv7.Dialect{}
	case major == 8:
		return elasticv8.Dialect{}
	default:
		return elasticv9.Dialect{}
	}
}

// Info returns the identity of the connected cluster.
func (c *Client) Info() elastic.ClusterInfo {
	return c.conn.Info()
}

// Dialect returns the request dialect in use.
func (c *Client) Dialect() elastic.Dialect {
	return c.dialect
}

// docType is the mapping type the cluster stores documents under. Typeless
// dialects always use _doc.
func (c *Client) docType(typ string) string {
	if typ == "" || c.dialect.Version() >= 8 {
		return "_doc"
	}
	return typ
}

// Refresh makes recent writes to index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	const op = "refresh"
	if err := elastic.ValidateIndexName(index); err != nil {
		return withContext(err, op, index, "")
	}

	body, status, err := c.conn.Send(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_refresh", nil)
	if err != nil {
		return withContext(err, op, index, "")
	}
	if status > 299 {
		return responseError(op, index, "", elastic.Response{StatusCode: status, Body: body})
	}
	return nil
}

// Close releases all connections. In-flight operations fail with a
// cancelled error.
func (c *Client) Close() {
	c.conn.Close()
}
