package proxy

import (
	"net"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/papercomputeco/relay/pkg/metrics"
)

// sessions maps each accepted client connection to its own ReverseProxy, so
// every client connection uses at most one backend connection and sessions
// never share one.
type sessions struct {
	mu     sync.Mutex
	byConn map[net.Conn]*ReverseProxy

	newProxy func() *ReverseProxy
	metrics  *metrics.Collector
}

func newSessions(newProxy func() *ReverseProxy, m *metrics.Collector) *sessions {
	return &sessions{
		byConn:   make(map[net.Conn]*ReverseProxy),
		newProxy: newProxy,
		metrics:  m,
	}
}

// get returns the session of conn, creating it on the connection's first
// completion request.
func (s *sessions) get(conn net.Conn) *ReverseProxy {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rp, ok := s.byConn[conn]; ok {
		return rp
	}
	rp := s.newProxy()
	s.byConn[conn] = rp
	s.metrics.SessionOpened()
	return rp
}

// drop closes and forgets the session of conn, if it has one.
func (s *sessions) drop(conn net.Conn) {
	s.mu.Lock()
	rp, ok := s.byConn[conn]
	delete(s.byConn, conn)
	s.mu.Unlock()

	if ok {
		_ = rp.Close()
		s.metrics.SessionClosed()
	}
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	all := s.byConn
	s.byConn = make(map[net.Conn]*ReverseProxy)
	s.mu.Unlock()

	for _, rp := range all {
		_ = rp.Close()
		s.metrics.SessionClosed()
	}
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byConn)
}

// connState returns a fasthttp ConnState hook that drops the session of a
// connection once fasthttp is done with it, then calls next.
func (s *sessions) connState(next func(net.Conn, fasthttp.ConnState)) func(net.Conn, fasthttp.ConnState) {
	return func(conn net.Conn, state fasthttp.ConnState) {
		if state == fasthttp.StateClosed || state == fasthttp.StateHijacked {
			s.drop(conn)
		}
		if next != nil {
			next(conn, state)
		}
	}
}
