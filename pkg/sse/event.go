// Package sse provides an incremental SSE (Server-Sent Events) codec for the
// relay proxy. EventReader reassembles events from arbitrarily fragmented
// network chunks, and Event.WriteTo serializes events back to wire bytes.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Event represents a single SSE event, delimited by a blank line in the
// byte stream. A nil field was absent on the wire; a pointer to "" was
// present with an empty value.
type Event struct {
	// Type is the value of the "event:" field.
	Type *string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data *string

	// ID is the value of the "id:" field.
	ID *string

	// Retry is the reconnection time from the "retry:" field.
	Retry *time.Duration
}

// String returns a pointer to s, for building Event literals.
func String(s string) *string {
	return &s
}

// Duration returns a pointer to d, for building Event literals.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// IsEmpty reports whether no field of the event is set. Empty events are
// never dispatched.
func (e Event) IsEmpty() bool {
	return e.Type == nil && e.Data == nil && e.ID == nil && e.Retry == nil
}

// Equal reports whether every field of e matches o.
func (e Event) Equal(o Event) bool {
	return eqString(e.Type, o.Type) &&
		eqString(e.Data, o.Data) &&
		eqString(e.ID, o.ID) &&
		eqDuration(e.Retry, o.Retry)
}

// DataIs reports whether the event carries data equal to s.
func (e Event) DataIs(s string) bool {
	return e.Data != nil && *e.Data == s
}

// update applies a single "name: value" field line to the event.
func (e *Event) update(name, value string) {
	switch name {
	case "event":
		e.Type = String(value)
	case "data":
		if e.Data != nil {
			value = *e.Data + "\n" + value
		}
		e.Data = String(value)
	case "id":
		e.ID = String(value)
	case "retry":
		ms, err := strconv.ParseUint(value, 10, 64)
		if err != nil || ms > uint64(maxRetryMillis) {
			return
		}
		e.Retry = Duration(time.Duration(ms) * time.Millisecond)
	default:
		// Unknown fields are ignored.
	}
}

const maxRetryMillis = math.MaxInt64 / int64(time.Millisecond)

// WriteTo serializes the event in SSE wire format followed by the blank line
// that dispatches it. Multi-line data is written as one "data:" line per
// segment.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	e.appendTo(&buf)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Bytes returns the wire encoding of the event.
func (e Event) Bytes() []byte {
	var buf bytes.Buffer
	e.appendTo(&buf)
	return buf.Bytes()
}

func (e Event) appendTo(buf *bytes.Buffer) {
	if e.Type != nil {
		writeField(buf, "event", *e.Type)
	}
	if e.Data != nil {
		for _, line := range strings.Split(*e.Data, "\n") {
			writeField(buf, "data", line)
		}
	}
	if e.ID != nil {
		writeField(buf, "id", *e.ID)
	}
	if e.Retry != nil {
		writeField(buf, "retry", strconv.FormatInt(e.Retry.Milliseconds(), 10))
	}
	buf.WriteByte('\n')
}

// writeField writes "name: value\n", or a bare "name\n" for an empty value.
func writeField(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	if value != "" {
		buf.WriteString(": ")
		buf.WriteString(value)
	}
	buf.WriteByte('\n')
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
