package sse

import (
	"errors"
	"io"
	"slices"
)

const readBufferSize = 32 * 1024

// Reader pulls SSE events out of an io.Reader, such as an HTTP response
// body, one at a time.
//
// ┌──────────────────┐   ┌──────────────────────────┐   ┌─────────┐
// │ source io.Reader │──▶│ EventReader.NextEvents() │──▶│  Event  │
// └──────────────────┘   └──────────────────────────┘   └─────────┘
type Reader struct {
	src    io.Reader
	parser EventReader
	buf    []byte

	// queue holds events dispatched by the last chunk and not yet returned.
	queue []Event
	eof   bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		buf: make([]byte, readBufferSize),
	}
}

// Next returns the next dispatched event. It blocks until a complete event
// is available (terminated by a blank line in the stream). Next returns
// nil, nil when the source is exhausted; an event still accumulating at
// that point was never dispatched and is dropped.
func (r *Reader) Next() (*Event, error) {
	for len(r.queue) == 0 {
		if r.eof {
			return nil, nil
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			events, perr := r.parser.NextEvents(r.buf[:n])
			if perr != nil {
				return nil, perr
			}
			r.queue = slices.Collect(events)
		}

		switch {
		case errors.Is(err, io.EOF):
			r.eof = true
		case err != nil:
			return nil, err
		}
	}

	ev := r.queue[0]
	r.queue = r.queue[1:]
	return &ev, nil
}
