package fakecluster

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Node is one HTTP endpoint of a Cluster.
type Node struct {
	index   int
	cluster *Cluster
	server  *httptest.Server

	mu       sync.Mutex
	dropping bool
	opaqueID string
	closed   bool
}

func (n *Node) URL() string {
	return n.server.URL
}

// SetDropping makes the node close connections without answering API
// requests. The handshake is still answered.
func (n *Node) SetDropping(drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropping = drop
}

// SetOpaqueID overrides the request id echoed in responses.
func (n *Node) SetOpaqueID(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opaqueID = id
}

// Close stops the node. Later requests to it fail with connection refused.
func (n *Node) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	n.server.CloseClientConnections()
	n.server.Close()
}

func (n *Node) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		dropping, opaqueID := n.dropping, n.opaqueID
		n.mu.Unlock()

		if id := r.Header.Get("X-Opaque-Id"); opaqueID != "" {
			w.Header().Set("X-Opaque-Id", opaqueID)
		} else if id != "" {
			w.Header().Set("X-Opaque-Id", id)
		}

		if r.URL.Path == "/" {
			next.ServeHTTP(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		c := n.cluster
		c.mu.Lock()
		c.requests = append(c.requests, Recorded{
			Node:   n.index,
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		delay := c.delay
		c.mu.Unlock()

		if dropping {
			hijackAndClose(w)
			return
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("fakecluster: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
