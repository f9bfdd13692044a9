// Package transport owns the connections to the cluster nodes. A Connector
// picks an endpoint per request, applies deadlines, correlates requests and
// responses by id and fails in-flight requests when it is closed.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pteich/elastic-doc-client/elastic"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	// HeaderRequestID is echoed back by the cluster on every response.
	HeaderRequestID = "X-Opaque-Id"
)

type Selector string

const (
	RoundRobin   Selector = "round-robin"
	FirstHealthy Selector = "first-healthy"
)

type Config struct {
	Endpoints           []elastic.ClusterEndpoint
	Username            string
	Password            string
	VerifySSL           bool
	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	MaxConnsPerEndpoint int
	Selector            Selector
	Logger              *zap.Logger
	Registerer          prometheus.Registerer
}

type conn struct {
	endpoint elastic.ClusterEndpoint
	client   *http.Client
	healthy  atomic.Bool
}

type Connector struct {
	cfg     Config
	conns   []*conn
	next    atomic.Uint64
	info    elastic.ClusterInfo
	log     *zap.Logger
	metrics *metrics

	closing   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ elastic.Transport = (*Connector)(nil)

// Connect opens one connection per endpoint and handshakes all of them
// concurrently. It fails with a connection error if no endpoint answers.
func Connect(ctx context.Context, cfg Config) (*Connector, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, elastic.Errorf(elastic.KindValidation, "connect", "no endpoints configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	switch cfg.Selector {
	case "":
		cfg.Selector = RoundRobin
	case RoundRobin, FirstHealthy:
	default:
		return nil, elastic.Errorf(elastic.KindValidation, "connect", "unknown selector %q", cfg.Selector)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	closing, cancel := context.WithCancel(context.Background())
	c := &Connector{
		cfg:     cfg,
		log:     cfg.Logger.Named("transport"),
		metrics: newMetrics(cfg.Registerer),
		closing: closing,
		cancel:  cancel,
	}
	for _, ep := range cfg.Endpoints {
		c.conns = append(c.conns, c.newConn(ep))
	}

	infos := make([]elastic.ClusterInfo, len(c.conns))
	errs := make([]error, len(c.conns))

	var g errgroup.Group
	for i, cn := range c.conns {
		g.Go(func() error {
			infos[i], errs[i] = c.handshake(ctx, cn)
			return nil
		})
	}
	_ = g.Wait()

	found := false
	for i, cn := range c.conns {
		if errs[i] != nil {
			c.log.Debug("handshake failed", zap.Stringer("endpoint", cn.endpoint), zap.Error(errs[i]))
			continue
		}
		cn.healthy.Store(true)
		if !found {
			c.info = infos[i]
			found = true
		}
	}
	if !found {
		c.Close()
		return nil, &elastic.Error{
			Kind:   elastic.KindConnection,
			Op:     "connect",
			Reason: fmt.Sprintf("no reachable endpoint among %d", len(c.conns)),
			Err:    errors.Join(errs...),
		}
	}

	c.log.Info("connected",
		zap.String("cluster", c.info.ClusterName),
		zap.String("version", c.info.Version.Number),
		zap.Int("endpoints", len(c.conns)),
	)
	return c, nil
}

func (c *Connector) newConn(ep elastic.ClusterEndpoint) *conn {
	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !c.cfg.VerifySSL},
		TLSHandshakeTimeout: c.cfg.ConnectTimeout,
		MaxConnsPerHost:     c.cfg.MaxConnsPerEndpoint,
		MaxIdleConnsPerHost: max(c.cfg.MaxConnsPerEndpoint, 2),
		IdleConnTimeout:     90 * time.Second,
	}
	return &conn{endpoint: ep, client: &http.Client{Transport: tr}}
}

func (c *Connector) handshake(ctx context.Context, cn *conn) (elastic.ClusterInfo, error) {
	var info elastic.ClusterInfo

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cn.endpoint.URL().String()+"/", nil)
	if err != nil {
		return info, err
	}
	c.authorize(req)

	res, err := cn.client.Do(req)
	if err != nil {
		return info, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return info, fmt.Errorf("%s: handshake status %d: %s", cn.endpoint, res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("%s: decode handshake: %w", cn.endpoint, err)
	}
	return info, nil
}

func (c *Connector) authorize(req *http.Request) {
	if c.cfg.Username == "" {
		return
	}
	if _, _, ok := req.BasicAuth(); !ok {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// Info returns the cluster identity read during the handshake.
func (c *Connector) Info() elastic.ClusterInfo {
	return c.info
}

// Healthy lists the endpoints currently considered reachable.
func (c *Connector) Healthy() []elastic.ClusterEndpoint {
	var out []elastic.ClusterEndpoint
	for _, cn := range c.conns {
		if cn.healthy.Load() {
			out = append(out, cn.endpoint)
		}
	}
	return out
}

// Perform sends req to one endpoint. The request path is kept, scheme and host
// come from the selected endpoint. Requests whose context carries WithRetry
// are tried once more on another endpoint after a network error.
func (c *Connector) Perform(req *http.Request) (*http.Response, error) {
	if c.closing.Err() != nil {
		return nil, elastic.Errorf(elastic.KindCancelled, "perform", "connector closed")
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, elastic.NewError(elastic.KindEncoding, "perform", err)
		}
	}

	attempts := 1
	if retryable(req.Context()) && len(c.conns) > 1 {
		attempts = 2
	}

	var (
		last *conn
		err  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		cn := c.pick(last)
		var res *http.Response
		res, err = c.roundTrip(req, body, cn)
		if err == nil {
			return res, nil
		}
		if elastic.KindOf(err) != elastic.KindNetwork {
			return nil, err
		}
		if attempt+1 < attempts {
			c.log.Debug("retrying on next endpoint", zap.Stringer("endpoint", cn.endpoint), zap.Error(err))
		}
		last = cn
	}
	return nil, err
}

// Send is a raw exchange returning the response body and status code.
func (c *Connector) Send(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, 0, elastic.NewError(elastic.KindValidation, "send", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Perform(req)
	if err != nil {
		return nil, 0, err
	}
	out, err := elastic.ReadResponse(res.StatusCode, res.Header, res.Body)
	if err != nil {
		return nil, 0, err
	}
	return out.Body, out.StatusCode, nil
}

// pick selects an endpoint, avoiding exclude when another one is available.
// When every endpoint is marked unhealthy all of them are tried again.
func (c *Connector) pick(exclude *conn) *conn {
	candidates := make([]*conn, 0, len(c.conns))
	for _, cn := range c.conns {
		if cn.healthy.Load() && cn != exclude {
			candidates = append(candidates, cn)
		}
	}
	if len(candidates) == 0 {
		for _, cn := range c.conns {
			if cn != exclude || len(c.conns) == 1 {
				candidates = append(candidates, cn)
			}
		}
	}

	if c.cfg.Selector == FirstHealthy {
		return candidates[0]
	}
	n := c.next.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

func (c *Connector) roundTrip(req *http.Request, body []byte, cn *conn) (*http.Response, error) {
	parent := req.Context()
	ctx, cancel := context.WithTimeout(parent, c.cfg.RequestTimeout)
	stop := context.AfterFunc(c.closing, cancel)
	release := func() {
		stop()
		cancel()
	}

	out := req.Clone(ctx)
	u := *req.URL
	u.Scheme = cn.endpoint.Scheme
	u.Host = cn.endpoint.Address()
	out.URL = &u
	out.Host = ""
	out.RequestURI = ""
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	} else {
		out.Body = nil
		out.ContentLength = 0
	}
	c.authorize(out)

	id := uuid.NewString()
	out.Header.Set(HeaderRequestID, id)

	start := time.Now()
	res, err := cn.client.Do(out)
	if err != nil {
		release()
		e := c.classify(parent, ctx, cn, err)
		c.metrics.observe(cn.endpoint.String(), e.Kind.String(), start)
		return nil, e
	}

	if echoed := res.Header.Get(HeaderRequestID); echoed != "" && echoed != id {
		res.Body.Close()
		release()
		c.metrics.observe(cn.endpoint.String(), "mismatch", start)
		return nil, elastic.Errorf(elastic.KindNetwork, "perform", "response id %q does not match request id %q", echoed, id)
	}

	cn.healthy.Store(true)
	c.metrics.observe(cn.endpoint.String(), "ok", start)
	res.Body = &responseBody{
		rc:      res.Body,
		release: release,
		classify: func(err error) error {
			return c.classify(parent, ctx, cn, err)
		},
	}
	return res, nil
}

// classify maps a transport failure onto the error taxonomy. Only genuine
// network faults mark the endpoint unhealthy.
func (c *Connector) classify(parent, ctx context.Context, cn *conn, err error) *elastic.Error {
	switch {
	case c.closing.Err() != nil:
		return &elastic.Error{Kind: elastic.KindCancelled, Op: "perform", Reason: "connector closed", Err: err}
	case errors.Is(parent.Err(), context.Canceled):
		return &elastic.Error{Kind: elastic.KindCancelled, Op: "perform", Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &elastic.Error{Kind: elastic.KindTimeout, Op: "perform", Reason: "deadline exceeded", Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &elastic.Error{Kind: elastic.KindTimeout, Op: "perform", Err: err}
	}

	cn.healthy.Store(false)
	return &elastic.Error{Kind: elastic.KindNetwork, Op: "perform", Reason: cn.endpoint.String() + ": " + err.Error(), Err: err}
}

// Close releases all connections. It may be called repeatedly and while
// requests are in flight; those fail with a cancelled error.
func (c *Connector) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, cn := range c.conns {
			cn.client.CloseIdleConnections()
		}
	})
}

type responseBody struct {
	rc       io.ReadCloser
	release  func()
	classify func(error) error
	once     sync.Once
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		return n, b.classify(err)
	}
	return n, err
}

func (b *responseBody) Close() error {
	err := b.rc.Close()
	b.once.Do(b.release)
	return err
}

type retryKey struct{}

// WithRetry marks the requests made with ctx as safe to repeat on another
// endpoint. Only idempotent reads should carry it.
func WithRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

func retryable(ctx context.Context) bool {
	v, _ := ctx.Value(retryKey{}).(bool)
	return v
}
