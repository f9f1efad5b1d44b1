package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

var (
	// ErrConnClosed is returned by Send once the connection's driver has
	// exited. It wraps the cause when there is one.
	ErrConnClosed = errors.New("backend connection closed")

	errClosedByCaller     = errors.New("closed by caller")
	errUnsolicitedData    = errors.New("unsolicited data on idle connection")
	errBodyNotConsumed    = errors.New("response body closed before end")
	errPeerRequestedClose = errors.New("peer sent Connection: close")
)

// Conn is a single HTTP/1.1 session with a backend. Requests are serialized:
// a background driver goroutine writes one request, reads its response
// headers, and waits until the caller has read the body to the end before
// accepting the next request.
//
// The driver also watches the idle connection, so a Conn whose peer has gone
// away reports Closed without a request having to fail first. Once the driver
// exits the Conn is dead for good.
type Conn struct {
	target Target
	nc     net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	logger *slog.Logger

	reqc      chan *roundTrip
	closing   chan struct{}
	closeOnce sync.Once

	// done is closed when the driver exits, after err is set.
	done chan struct{}
	err  error
}

type roundTrip struct {
	ctx  context.Context
	req  *http.Request
	resc chan result
}

type result struct {
	resp *http.Response
	err  error
}

// NewConn starts an HTTP/1.1 session over an established transport. The
// returned Conn owns nc.
func NewConn(nc net.Conn, target Target, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Conn{
		target:  target,
		nc:      nc,
		br:      bufio.NewReader(nc),
		bw:      bufio.NewWriter(nc),
		logger:  logger.With("backend", target.String()),
		reqc:    make(chan *roundTrip),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.drive()
	return c
}

// Target returns the backend this connection talks to.
func (c *Conn) Target() Target {
	return c.target
}

// Send writes req and returns the response once its headers have arrived.
// The caller must read resp.Body to EOF or close it; closing it early tears
// the connection down, since the rest of the body can't be skipped cheaply.
//
// Cancelling ctx before the headers arrive aborts the connection.
func (c *Conn) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.Closed() {
		return nil, c.closedErr()
	}

	rt := &roundTrip{ctx: ctx, req: req, resc: make(chan result, 1)}
	select {
	case c.reqc <- rt:
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// An accepted round trip is always answered.
	res := <-rt.resc
	return res.resp, res.err
}

// Closed reports whether the driver has exited. A closed Conn never accepts
// another request.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the connection dies.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection died, or nil while it is alive.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tears the connection down and waits for the driver to exit. A
// response body still being read fails.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.nc.Close()
	})
	<-c.done
	return nil
}

func (c *Conn) closedErr() error {
	if c.err == nil || errors.Is(c.err, errClosedByCaller) {
		return ErrConnClosed
	}
	return fmt.Errorf("%w: %w", ErrConnClosed, c.err)
}

func (c *Conn) abort() {
	_ = c.nc.Close()
}

func (c *Conn) drive() {
	err := c.loop()

	c.err = err
	_ = c.nc.Close()
	close(c.done)

	switch {
	case errors.Is(err, errClosedByCaller), errors.Is(err, io.EOF):
		c.logger.Debug("backend connection closed", "reason", err.Error())
	default:
		c.logger.Warn("backend connection lost", "error", err)
	}
}

func (c *Conn) loop() error {
	// peekc reports the first readable byte (nil) or a read error. Exactly
	// one peek is outstanding per iteration.
	peekc := make(chan error, 1)

	for {
		go func() {
			_, err := c.br.Peek(1)
			peekc <- err
		}()

		var rt *roundTrip
		select {
		case <-c.closing:
			return errClosedByCaller
		case err := <-peekc:
			if err != nil {
				return err
			}
			return errUnsolicitedData
		case rt = <-c.reqc:
		}

		resp, err := c.roundTrip(rt, peekc)
		if err != nil {
			rt.resc <- result{err: err}
			return err
		}

		body := &bodyTracker{rc: resp.Body, done: make(chan bool, 1), abort: c.abort}
		resp.Body = body
		rt.resc <- result{resp: resp}

		select {
		case <-c.closing:
			return errClosedByCaller
		case clean := <-body.done:
			if !clean {
				return errBodyNotConsumed
			}
		}

		if resp.Close {
			return errPeerRequestedClose
		}
	}
}

func (c *Conn) roundTrip(rt *roundTrip, peekc <-chan error) (*http.Response, error) {
	stop := context.AfterFunc(rt.ctx, c.abort)
	defer stop()

	wrap := func(op string, err error) error {
		if ctxErr := rt.ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := rt.req.Write(c.bw); err != nil {
		return nil, wrap("writing request", err)
	}
	if err := c.bw.Flush(); err != nil {
		return nil, wrap("writing request", err)
	}

	if err := <-peekc; err != nil {
		return nil, wrap("awaiting response", err)
	}

	for {
		resp, err := http.ReadResponse(c.br, rt.req)
		if err != nil {
			return nil, wrap("reading response", err)
		}
		// Skip interim 1xx responses; 101 is final but never requested.
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		return resp, nil
	}
}

// bodyTracker reports to the driver whether the body was read to the end.
type bodyTracker struct {
	rc    io.ReadCloser
	once  sync.Once
	done  chan bool
	abort func()
}

func (b *bodyTracker) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.signal(true)
	case err != nil:
		b.signal(false)
	}
	return n, err
}

func (b *bodyTracker) Close() error {
	if b.signal(false) {
		// The unread remainder may be an endless event stream; drop the
		// transport instead of draining it.
		b.abort()
		_ = b.rc.Close()
		return nil
	}
	return b.rc.Close()
}

func (b *bodyTracker) signal(clean bool) bool {
	sent := false
	b.once.Do(func() {
		b.done <- clean
		sent = true
	})
	return sent
}
