package backend

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"golang.org/x/net/http/httpproxy"

	"github.com/papercomputeco/relay/pkg/metrics"
)

// ErrUnsupportedProxy is returned for forward proxies other than http://.
var ErrUnsupportedProxy = errors.New("only http:// forward proxies are supported")

// Dialer opens Conns to backends.
type Dialer struct {
	// ForwardProxy, if set, is the http:// proxy every connection is
	// tunnelled through with CONNECT.
	ForwardProxy *url.URL

	// ProxyFromEnvironment resolves the forward proxy from HTTP_PROXY,
	// HTTPS_PROXY and NO_PROXY when ForwardProxy is nil.
	ProxyFromEnvironment bool

	// TLSConfig is cloned for https backends. ServerName defaults to the
	// backend host.
	TLSConfig *tls.Config

	Logger  *slog.Logger
	Metrics *metrics.Collector

	tcp net.Dialer
}

// ParseForwardProxy parses and validates a forward proxy URL.
func ParseForwardProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing forward proxy URL: %w", err)
	}
	if err := checkProxyURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func checkProxyURL(u *url.URL) error {
	if u.Scheme != "http" {
		return fmt.Errorf("%w, got %q", ErrUnsupportedProxy, u.Redacted())
	}
	if u.Hostname() == "" {
		return fmt.Errorf("forward proxy %w: %q", ErrMissingHost, u.Redacted())
	}
	return nil
}

// Dial connects to target: TCP to the forward proxy or the backend, the
// CONNECT handshake when proxied, then TLS for https. Failures are returned
// as is and never retried.
func (d *Dialer) Dial(ctx context.Context, target Target) (*Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	proxyURL, err := d.proxyFor(target)
	if err != nil {
		d.Metrics.RecordDial(target.Scheme, false, err)
		return nil, err
	}
	tunneled := proxyURL != nil

	nc, err := d.dial(ctx, target, proxyURL)
	d.Metrics.RecordDial(target.Scheme, tunneled, err)
	if err != nil {
		return nil, err
	}

	logger.Debug("backend connection established",
		"backend", target.String(),
		"tunneled", tunneled,
		"local_addr", nc.LocalAddr().String(),
	)
	return NewConn(nc, target, logger), nil
}

func (d *Dialer) dial(ctx context.Context, target Target, proxyURL *url.URL) (net.Conn, error) {
	addr := target.Addr()
	if proxyURL != nil {
		addr = proxyAddr(proxyURL)
	}

	nc, err := d.tcp.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if proxyURL != nil {
		if err := Handshake(ctx, nc, target.Host, target.Port, proxyAuth(proxyURL)); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tunnelling to %s via %s: %w", target.Addr(), proxyURL.Redacted(), err)
		}
	}

	if !target.TLS() {
		return nc, nil
	}

	tc := tls.Client(nc, d.tlsConfig(target))
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("TLS handshake with %s: %w", target.Host, err)
	}
	return tc, nil
}

func (d *Dialer) proxyFor(target Target) (*url.URL, error) {
	if d.ForwardProxy != nil {
		if err := checkProxyURL(d.ForwardProxy); err != nil {
			return nil, err
		}
		return d.ForwardProxy, nil
	}
	if !d.ProxyFromEnvironment {
		return nil, nil
	}

	u, err := httpproxy.FromEnvironment().ProxyFunc()(target.URL())
	if err != nil {
		return nil, fmt.Errorf("resolving forward proxy from environment: %w", err)
	}
	if u == nil {
		return nil, nil
	}
	if err := checkProxyURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (d *Dialer) tlsConfig(target Target) *tls.Config {
	var cfg *tls.Config
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = target.Host
	}
	cfg.NextProtos = []string{"http/1.1"}
	return cfg
}

func proxyAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// proxyAuth builds a Basic Proxy-Authorization value from the URL's user
// info, or returns "".
func proxyAuth(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	creds := u.User.Username() + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}
