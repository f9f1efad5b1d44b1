// Package backend manages outbound HTTP/1.1 connections to an inference
// backend, optionally tunnelled through a forward proxy.
package backend

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedScheme is returned for backend URLs that are neither
	// http nor https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrMissingHost is returned for URLs without a host.
	ErrMissingHost = errors.New("URL has no host")

	// ErrInvalidPort is returned for URLs whose port is not in 1-65535.
	ErrInvalidPort = errors.New("invalid port")
)

// Target is the network location of a backend.
type Target struct {
	// Scheme is "http" or "https".
	Scheme string

	// Host is the hostname or IP literal, without brackets.
	Host string

	// Port is explicit or the scheme default.
	Port int

	// Authority is the host[:port] as written in the URL, sent as the Host
	// header.
	Authority string
}

// ParseTarget parses a backend URL such as "https://api.openai.com" or
// "http://localhost:8080".
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parsing URL %q: %w", raw, err)
	}
	return TargetFromURL(u)
}

// TargetFromURL extracts the Target of an already parsed URL. The path,
// query and user info are ignored.
func TargetFromURL(u *url.URL) (Target, error) {
	scheme := strings.ToLower(u.Scheme)

	var port int
	switch scheme {
	case "http":
		port = 80
	case "https":
		port = 443
	default:
		return Target{}, fmt.Errorf("%w %q in %q", ErrUnsupportedScheme, u.Scheme, u.Redacted())
	}

	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q", ErrMissingHost, u.Redacted())
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return Target{}, fmt.Errorf("%w %q in %q", ErrInvalidPort, p, u.Redacted())
		}
		port = n
	}

	return Target{
		Scheme:    scheme,
		Host:      host,
		Port:      port,
		Authority: u.Host,
	}, nil
}

// Addr returns host:port suitable for net.Dial.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TLS reports whether connections to t use TLS.
func (t Target) TLS() bool {
	return t.Scheme == "https"
}

// URL returns the origin of t as a URL.
func (t Target) URL() *url.URL {
	return &url.URL{Scheme: t.Scheme, Host: t.Authority}
}

func (t Target) String() string {
	return t.Scheme + "://" + t.Authority
}
