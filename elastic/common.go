package elastic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode"
)

// Transport matches esapi.Transport of go-elasticsearch v8 and v9.
type Transport interface {
	Perform(*http.Request) (*http.Response, error)
}

type Op string

const (
	OpIndex  Op = "index"
	OpGet    Op = "get"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpSearch Op = "search"
)

// Request is a version independent description of one document operation.
// Body is already encoded.
type Request struct {
	Op      Op
	Index   string
	Type    string
	ID      string
	Body    []byte
	Refresh string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r Response) IsError() bool {
	return r.StatusCode > 299
}

// Dialect turns a Request into the REST call of one cluster major version.
type Dialect interface {
	Do(ctx context.Context, t Transport, req Request) (Response, error)
	Version() int
}

// ClusterInfo is read from "GET /" during the handshake.
type ClusterInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	ClusterUUID string `json:"cluster_uuid"`
	Version     struct {
		Number       string `json:"number"`
		Distribution string `json:"distribution,omitempty"`
	} `json:"version"`
	Tagline string `json:"tagline"`
}

// Major returns the major version number or 0 if unknown.
func (i ClusterInfo) Major() int {
	major := 0
	for _, r := range i.Version.Number {
		if r == '.' {
			break
		}
		if r < '0' || r > '9' {
			return 0
		}
		major = major*10 + int(r-'0')
	}
	return major
}

// ValidateIndexName enforces lowercase index names before any request is built.
func ValidateIndexName(name string) error {
	if name == "" {
		return Errorf(KindValidation, "validate", "index name must not be empty")
	}
	if name == "." || name == ".." {
		return Errorf(KindValidation, "validate", "index name %q is reserved", name)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "_") || strings.HasPrefix(name, "+") {
		return Errorf(KindValidation, "validate", "index name %q must not start with '-', '_' or '+'", name)
	}
	for _, r := range name {
		if unicode.IsUpper(r) {
			return Errorf(KindValidation, "validate", "index name %q must be lowercase", name)
		}
		if strings.ContainsRune(`\/*?"<>| ,#:`, r) {
			return Errorf(KindValidation, "validate", "index name %q contains illegal character %q", name, r)
		}
	}
	return nil
}

// ReadResponse drains and closes body. Read failures keep their *Error kind
// when the transport already classified them.
func ReadResponse(status int, header http.Header, body io.ReadCloser) (Response, error) {
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return Response{}, err
		}
		return Response{}, &Error{Kind: KindNetwork, Op: "read response", Err: err}
	}
	return Response{StatusCode: status, Header: header, Body: data}, nil
}
