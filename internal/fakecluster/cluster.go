// Package fakecluster serves the subset of the Elasticsearch REST API used by
// this module from memory: handshake, typed and typeless document CRUD,
// partial updates, refresh and match queries with highlighting. Several
// nodes can share one cluster state, and every node can inject faults.
package fakecluster

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Recorded struct {
	Node   int
	Method string
	Path   string
	Query  string
	Body   string
}

type stored struct {
	typ     string
	source  map[string]any
	version int64
}

type Cluster struct {
	version string

	mu            sync.Mutex
	indices       map[string]map[string]*stored
	requests      []Recorded
	delay         time.Duration
	shardFailures int
	seqNo         int64

	nodes []*Node
}

type Option func(*Cluster)

// WithVersion sets the version number reported by the handshake, e.g. "7.17.10".
func WithVersion(v string) Option {
	return func(c *Cluster) { c.version = v }
}

// WithNodes starts n nodes sharing the same documents.
func WithNodes(n int) Option {
	return func(c *Cluster) {
		for len(c.nodes) < n {
			c.nodes = append(c.nodes, &Node{index: len(c.nodes)})
		}
	}
}

func New(t testing.TB, opts ...Option) *Cluster {
	t.Helper()

	c := &Cluster{
		version: "8.17.0",
		indices: map[string]map[string]*stored{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.nodes) == 0 {
		WithNodes(1)(c)
	}
	for _, n := range c.nodes {
		n.cluster = c
		n.server = httptest.NewServer(c.router(n))
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Close()
		}
	})
	return c
}

func (c *Cluster) URLs() []string {
	urls := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		urls[i] = n.URL()
	}
	return urls
}

func (c *Cluster) Node(i int) *Node {
	return c.nodes[i]
}

func (c *Cluster) Major() int {
	major, _ := strconv.Atoi(strings.SplitN(c.version, ".", 2)[0])
	return major
}

// Requests returns every request received after the handshake.
func (c *Cluster) Requests() []Recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Recorded(nil), c.requests...)
}

// Stored returns a copy of the source of a stored document.
func (c *Cluster) Stored(index, id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.indices[index][id]
	if !ok {
		return nil, false
	}
	return deepCopy(doc.source), true
}

// Count returns the number of documents in index.
func (c *Cluster) Count(index string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indices[index])
}

// Put stores a document directly, bypassing the API.
func (c *Cluster) Put(index, typ, id string, source map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(index, typ, id, source)
}

// SetDelay delays every API response, not the handshake.
func (c *Cluster) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetShardFailures makes write responses report n failed shard copies.
func (c *Cluster) SetShardFailures(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shardFailures = n
}

func (c *Cluster) router(n *Node) http.Handler {
	r := chi.NewRouter()
	r.Use(n.middleware)

	r.Get("/", c.handleInfo)
	r.Post("/{index}/_search", c.handleSearch)
	r.Get("/{index}/_search", c.handleSearch)
	r.Post("/{index}/_refresh", c.handleRefresh)
	r.Post("/{index}/_update/{id}", c.handleUpdate)
	r.Post("/{index}/{type}/{id}/_update", c.handleUpdate)
	r.Post("/{index}/{type}/_search", c.handleSearch)
	r.Post("/{index}/{type}", c.handleCreate)
	r.Put("/{index}/{type}/{id}", c.handleIndex)
	r.Post("/{index}/{type}/{id}", c.handleIndex)
	r.Get("/{index}/{type}/{id}", c.handleGet)
	r.Delete("/{index}/{type}/{id}", c.handleDelete)
	return r
}

func (c *Cluster) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "fake-node",
		"cluster_name": "fake-cluster",
		"cluster_uuid": "fake-uuid",
		"version":      map[string]any{"number": c.version},
		"tagline":      "You Know, for Search",
	})
}

// docType validates the type path segment for the cluster version and
// returns the type to report.
func (c *Cluster) docType(w http.ResponseWriter, r *http.Request) (string, bool) {
	typ := chi.URLParam(r, "type")
	if typ == "" || typ == "_doc" {
		return "_doc", true
	}
	if strings.HasPrefix(typ, "_") || c.Major() >= 8 {
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "no handler found for uri ["+r.URL.Path+"] and method ["+r.Method+"]")
		return "", false
	}
	return typ, true
}

func (c *Cluster) validIndex(w http.ResponseWriter, index string) bool {
	if strings.ToLower(index) != index {
		writeError(w, http.StatusBadRequest, "invalid_index_name_exception", "Invalid index name ["+index+"], must be lowercase")
		return false
	}
	return true
}

func (c *Cluster) handleIndex(w http.ResponseWriter, r *http.Request) {
	index, id := chi.URLParam(r, "index"), chi.URLParam(r, "id")
	typ, ok := c.docType(w, r)
	if !ok || !c.validIndex(w, index) {
		return
	}
	source, ok := readObject(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	doc, result := c.put(index, typ, id, source)
	resp := c.writeResponse(index, typ, id, doc.version, result)
	c.mu.Unlock()

	status := http.StatusOK
	if result == "created" {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (c *Cluster) handleCreate(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	typ, ok := c.docType(w, r)
	if !ok || !c.validIndex(w, index) {
		return
	}
	source, ok := readObject(w, r)
	if !ok {
		return
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	c.mu.Lock()
	doc, result := c.put(index, typ, id, source)
	resp := c.writeResponse(index, typ, id, doc.version, result)
	c.mu.Unlock()

	writeJSON(w, http.StatusCreated, resp)
}

func (c *Cluster) handleGet(w http.ResponseWriter, r *http.Request) {
	index, id := chi.URLParam(r, "index"), chi.URLParam(r, "id")
	typ, ok := c.docType(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	docs, indexExists := c.indices[index]
	doc, found := docs[id]
	var resp map[string]any
	if found {
		resp = c.meta(index, doc.typ, id)
		resp["_version"] = doc.version
		resp["found"] = true
		resp["_source"] = deepCopy(doc.source)
	}
	c.mu.Unlock()

	switch {
	case !indexExists:
		writeIndexNotFound(w, index)
	case !found:
		resp = c.meta(index, typ, id)
		resp["found"] = false
		writeJSON(w, http.StatusNotFound, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (c *Cluster) handleUpdate(w http.ResponseWriter, r *http.Request) {
	index, id := chi.URLParam(r, "index"), chi.URLParam(r, "id")
	if _, ok := c.docType(w, r); !ok {
		return
	}
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	partial, ok := body["doc"].(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "action_request_validation_exception", "Validation Failed: 1: script or doc is missing;")
		return
	}

	c.mu.Lock()
	doc, found := c.indices[index][id]
	if !found {
		c.mu.Unlock()
		writeError(w, http.StatusNotFound, "document_missing_exception", "["+id+"]: document missing")
		return
	}
	merged := merge(deepCopy(doc.source), partial)
	result := "noop"
	if !equalJSON(merged, doc.source) {
		doc.source = merged
		doc.version++
		result = "updated"
	}
	resp := c.writeResponse(index, doc.typ, id, doc.version, result)
	c.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (c *Cluster) handleDelete(w http.ResponseWriter, r *http.Request) {
	index, id := chi.URLParam(r, "index"), chi.URLParam(r, "id")
	typ, ok := c.docType(w, r)
	if !ok {
		return
	}

	c.mu.Lock()
	doc, found := c.indices[index][id]
	var (
		resp   map[string]any
		status = http.StatusOK
	)
	if found {
		delete(c.indices[index], id)
		resp = c.writeResponse(index, doc.typ, id, doc.version+1, "deleted")
	} else {
		resp = c.writeResponse(index, typ, id, 1, "not_found")
		status = http.StatusNotFound
	}
	c.mu.Unlock()

	writeJSON(w, status, resp)
}

func (c *Cluster) handleRefresh(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	c.mu.Lock()
	_, ok := c.indices[index]
	c.mu.Unlock()
	if !ok {
		writeIndexNotFound(w, index)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]any{"total": 2, "successful": 1, "failed": 0}})
}

// put must be called with c.mu held.
func (c *Cluster) put(index, typ, id string, source map[string]any) (*stored, string) {
	docs, ok := c.indices[index]
	if !ok {
		docs = map[string]*stored{}
		c.indices[index] = docs
	}
	if old, ok := docs[id]; ok {
		old.source = source
		old.typ = typ
		old.version++
		return old, "updated"
	}
	doc := &stored{typ: typ, source: source, version: 1}
	docs[id] = doc
	return doc, "created"
}

func (c *Cluster) meta(index, typ, id string) map[string]any {
	m := map[string]any{"_index": index, "_id": id}
	if c.Major() < 8 {
		m["_type"] = typ
	}
	return m
}

// writeResponse must be called with c.mu held.
func (c *Cluster) writeResponse(index, typ, id string, version int64, result string) map[string]any {
	c.seqNo++
	m := c.meta(index, typ, id)
	m["_version"] = version
	m["result"] = result
	m["_seq_no"] = c.seqNo
	m["_primary_term"] = 1
	m["_shards"] = map[string]any{
		"total":      2 + c.shardFailures,
		"successful": 1,
		"failed":     c.shardFailures,
	}
	return m
}

func readObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "mapper_parsing_exception", "failed to parse")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": typ, "reason": reason},
		"status": status,
	})
}

func writeIndexNotFound(w http.ResponseWriter, index string) {
	writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+index+"]")
}

func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = merge(dm, sm)
				continue
			}
		}
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopy(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func equalJSON(a, b map[string]any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return bytes.Equal(ab, bb)
}
