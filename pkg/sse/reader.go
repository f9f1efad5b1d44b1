package sse

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when a chunk contains bytes that can never form
// valid UTF-8. It is terminal for the stream; the reader does not attempt to
// resynchronize.
var ErrInvalidUTF8 = errors.New("sse: stream contains invalid UTF-8")

// EventReader incrementally parses SSE events out of a stream that arrives in
// arbitrarily sized chunks. Line text without a terminator and bytes of a
// multi-byte UTF-8 sequence cut off by a chunk boundary are carried over to
// the next call, so the sequence of dispatched events does not depend on how
// the stream was split.
//
// The zero value is ready to use. An EventReader is not safe for concurrent
// use.
type EventReader struct {
	// event accumulates fields until a blank line dispatches it.
	event Event

	// text is decoded text not yet consumed by the line splitter. Between
	// calls it holds at most one unterminated line.
	text string

	// tail holds the undecodable trailing bytes of the last chunk: the start
	// of a multi-byte sequence whose remaining bytes have not arrived yet.
	tail []byte

	err error
}

// NextEvents feeds the next chunk of the stream and returns the events it
// dispatches, in wire order. The returned sequence is lazy and single-pass:
// parsing advances as the caller ranges over it, and whatever it has not
// consumed (including when the caller stops early or never iterates) stays
// pending for the next call. The sequence must not be used after the next
// call to NextEvents.
//
// Once NextEvents has returned an error, every later call returns the same
// error.
func (r *EventReader) NextEvents(chunk []byte) (iter.Seq[Event], error) {
	if r.err != nil {
		return nil, r.err
	}

	buf := chunk
	if len(r.text) > 0 || len(r.tail) > 0 {
		buf = make([]byte, 0, len(r.text)+len(r.tail)+len(chunk))
		buf = append(buf, r.text...)
		buf = append(buf, r.tail...)
		buf = append(buf, chunk...)
	}

	valid, tail, err := splitUTF8(buf)
	if err != nil {
		r.err = err
		return nil, err
	}

	r.text = string(valid)
	r.tail = append(r.tail[:0], tail...)

	return r.events, nil
}

// Pending reports whether the reader holds bytes or fields that have not
// been dispatched as an event yet.
func (r *EventReader) Pending() bool {
	return len(r.text) > 0 || len(r.tail) > 0 || !r.event.IsEmpty()
}

// events consumes complete lines from r.text, yielding each dispatched
// event. All progress is recorded on r so that stopping at any point leaves
// the reader consistent.
func (r *EventReader) events(yield func(Event) bool) {
	for {
		i := strings.IndexByte(r.text, '\n')
		if i < 0 {
			return
		}

		line := strings.TrimSuffix(r.text[:i], "\r")
		r.text = r.text[i+1:]

		switch {
		case line == "":
			if r.event.IsEmpty() {
				continue
			}
			ev := r.event
			r.event = Event{}
			if !yield(ev) {
				return
			}
		case line[0] == ':':
			// Comment.
		default:
			name, value, _ := strings.Cut(line, ":")
			r.event.update(name, strings.TrimPrefix(value, " "))
		}
	}
}

// splitUTF8 splits b into its longest valid UTF-8 prefix and a tail that is
// the truncated start of a multi-byte sequence. Any other invalid byte is an
// error.
func splitUTF8(b []byte) (valid, tail []byte, err error) {
	for i := 0; i < len(b); {
		if b[i] < utf8.RuneSelf {
			i++
			continue
		}

		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:], nil
			}
			return nil, nil, fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidUTF8, b[i], i)
		}
		i += size
	}

	return b, nil, nil
}
