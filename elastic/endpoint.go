package elastic

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

const DefaultPort = 9200

// ClusterEndpoint identifies one cluster node. It is a value type and never
// changes after ParseEndpoint.
type ClusterEndpoint struct {
	Scheme string
	Host   string
	Port   int
}

// ParseEndpoint accepts "host", "host:port" or a full "http(s)://host:port" URL.
func ParseEndpoint(s string) (ClusterEndpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ClusterEndpoint{}, Errorf(KindValidation, "parse endpoint", "empty endpoint")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return ClusterEndpoint{}, &Error{Kind: KindValidation, Op: "parse endpoint", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ClusterEndpoint{}, Errorf(KindValidation, "parse endpoint", "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return ClusterEndpoint{}, Errorf(KindValidation, "parse endpoint", "missing host in %q", s)
	}

	ep := ClusterEndpoint{Scheme: u.Scheme, Host: u.Hostname(), Port: DefaultPort}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return ClusterEndpoint{}, Errorf(KindValidation, "parse endpoint", "invalid port %q", p)
		}
		ep.Port = port
	}
	return ep, nil
}

// ParseEndpoints parses a list of endpoints, also splitting comma separated entries.
func ParseEndpoints(list ...string) ([]ClusterEndpoint, error) {
	var endpoints []ClusterEndpoint
	for _, item := range list {
		for _, s := range strings.Split(item, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			ep, err := ParseEndpoint(s)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, Errorf(KindValidation, "parse endpoint", "no endpoints configured")
	}
	return endpoints, nil
}

func (e ClusterEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e ClusterEndpoint) URL() *url.URL {
	return &url.URL{Scheme: e.Scheme, Host: e.Address()}
}

func (e ClusterEndpoint) String() string {
	return e.Scheme + "://" + e.Address()
}
