package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxTunnelReply bounds the size of a forward proxy's CONNECT reply.
const maxTunnelReply = 8 << 10

// TunnelError reports a failed CONNECT handshake.
type TunnelError struct {
	// Reason describes which step failed.
	Reason string

	// Reply holds the bytes read from the proxy so far.
	Reply string

	Err error
}

func (e *TunnelError) Error() string {
	msg := "proxy tunnel: " + e.Reason
	if status, _, _ := strings.Cut(e.Reply, "\n"); status != "" && e.Err == nil {
		msg += ": " + strconv.Quote(strings.TrimRight(status, "\r"))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

type flusher interface {
	Flush() error
}

// Handshake asks the forward proxy on the other end of rw to open a tunnel to
// host:port. auth, if non-empty, is sent as the Proxy-Authorization value.
//
// The reply is read one byte at a time so that no byte belonging to the
// tunnelled stream is consumed; rw must therefore not be buffered on the read
// side. On success rw carries the raw tunnel.
//
// If rw is a net.Conn, cancelling ctx aborts a blocked handshake by expiring
// the connection's deadline.
func Handshake(ctx context.Context, rw io.ReadWriter, host string, port int, auth string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var stop func() bool
	if conn, ok := rw.(net.Conn); ok {
		stop = context.AfterFunc(ctx, func() {
			_ = conn.SetDeadline(time.Unix(1, 0))
		})
	}

	err := handshake(rw, host, port, auth)
	if stop != nil && !stop() {
		return ctx.Err()
	}
	return err
}

func handshake(rw io.ReadWriter, host string, port int, auth string) error {
	hostport := net.JoinHostPort(host, strconv.Itoa(port))

	var req strings.Builder
	req.WriteString("CONNECT " + hostport + " HTTP/1.1\r\n")
	req.WriteString("Host: " + hostport + "\r\n")
	if auth != "" {
		req.WriteString("Proxy-Authorization: " + auth + "\r\n")
	}
	req.WriteString("Proxy-Connection: keep-alive\r\n")
	req.WriteString("Connection: keep-alive\r\n")
	req.WriteString("\r\n")

	if _, err := io.WriteString(rw, req.String()); err != nil {
		return &TunnelError{Reason: "writing request", Err: err}
	}
	if f, ok := rw.(flusher); ok {
		if err := f.Flush(); err != nil {
			return &TunnelError{Reason: "writing request", Err: err}
		}
	}

	reply, err := readReply(rw)
	if err != nil {
		return err
	}

	status, _, _ := strings.Cut(reply, "\n")
	fields := strings.Fields(status)
	switch {
	case len(fields) < 2:
		return &TunnelError{Reason: "malformed status line", Reply: reply}
	case fields[0] != "HTTP/1.1":
		return &TunnelError{Reason: "unsupported protocol " + strconv.Quote(fields[0]), Reply: reply}
	case fields[1] != "200":
		return &TunnelError{Reason: "proxy refused tunnel with status " + fields[1], Reply: reply}
	}

	return nil
}

// readReply reads up to and including the blank line ending the reply
// headers. Lines may end in "\n" or "\r\n".
func readReply(r io.Reader) (string, error) {
	reply := make([]byte, 0, 128)
	var b [1]byte

	terminators := 0
	for terminators < 2 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", &TunnelError{Reason: "reading reply", Reply: string(reply), Err: err}
		}

		reply = append(reply, b[0])
		if len(reply) > maxTunnelReply {
			return "", &TunnelError{Reason: fmt.Sprintf("reply exceeds %d bytes", maxTunnelReply), Reply: string(reply[:64])}
		}

		switch b[0] {
		case '\n':
			terminators++
		case '\r':
		default:
			terminators = 0
		}
	}

	return string(reply), nil
}
