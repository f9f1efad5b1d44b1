package sse

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// feed passes each chunk through r and collects every dispatched event.
func feed(r *EventReader, chunks ...[]byte) []Event {
	var out []Event
	for _, chunk := range chunks {
		events, err := r.NextEvents(chunk)
		Expect(err).NotTo(HaveOccurred())
		for ev := range events {
			out = append(out, ev)
		}
	}
	return out
}

func parseAll(stream string) []Event {
	return feed(&EventReader{}, []byte(stream))
}

var _ = Describe("EventReader", func() {
	Describe("NextEvents", func() {
		Context("with complete events in one chunk", func() {
			It("joins multiple data lines with newline", func() {
				events := parseAll("data: YHOO\ndata: +2\ndata: 10\n\n")
				Expect(events).To(Equal([]Event{{Data: String("YHOO\n+2\n10")}}))
			})

			It("keeps empty data lines", func() {
				events := parseAll("data\n\ndata\ndata\n\ndata:\n")
				Expect(events).To(Equal([]Event{
					{Data: String("")},
					{Data: String("\n")},
				}))
			})

			It("ignores comment lines", func() {
				events := parseAll(": test stream\n\ndata: first event\nid: 1\n\n")
				Expect(events).To(Equal([]Event{
					{Data: String("first event"), ID: String("1")},
				}))
			})

			It("treats a field without a colon as an empty value", func() {
				events := parseAll(": test stream\n\ndata: first event\nid: 1\n\ndata:second event\nid\n\ndata:  third event\n")
				Expect(events).To(Equal([]Event{
					{Data: String("first event"), ID: String("1")},
					{Data: String("second event"), ID: String("")},
				}))
			})

			It("strips only a single leading space from values", func() {
				events := parseAll("data:  two spaces\n\ndata:none\n\n")
				Expect(events).To(Equal([]Event{
					{Data: String(" two spaces")},
					{Data: String("none")},
				}))
			})

			It("replaces event type and id instead of appending", func() {
				events := parseAll("event: a\nevent: b\nid: 1\nid: 2\ndata: x\n\n")
				Expect(events).To(Equal([]Event{
					{Type: String("b"), ID: String("2"), Data: String("x")},
				}))
			})

			It("parses retry as milliseconds", func() {
				events := parseAll("retry: 1500\ndata: x\n\nretry: 10\n\n")
				Expect(events).To(Equal([]Event{
					{Data: String("x"), Retry: Duration(1500 * time.Millisecond)},
					{Retry: Duration(10 * time.Millisecond)},
				}))
			})

			It("ignores malformed retry values", func() {
				events := parseAll("retry: soon\ndata: x\n\nretry: -5\ndata: y\n\nretry:\nretry: 1.5\n\n")
				Expect(events).To(Equal([]Event{
					{Data: String("x")},
					{Data: String("y")},
				}))
			})

			It("ignores unknown fields", func() {
				events := parseAll("foo: bar\n\nfoo: bar\ndata: x\n\n")
				Expect(events).To(Equal([]Event{{Data: String("x")}}))
			})

			It("does not dispatch on blank lines without fields", func() {
				events := parseAll("\n\n\ndata: x\n\n\n\n")
				Expect(events).To(Equal([]Event{{Data: String("x")}}))
			})

			It("accepts CRLF line endings", func() {
				events := parseAll("event: push\r\ndata: a\r\n\r\ndata: b\r\n\r\n")
				Expect(events).To(Equal([]Event{
					{Type: String("push"), Data: String("a")},
					{Data: String("b")},
				}))
			})

			It("does not treat a bare CR as a line terminator", func() {
				events := parseAll("data: a\rb\n\n")
				Expect(events).To(Equal([]Event{{Data: String("a\rb")}}))
			})

			It("parses OpenAI streaming chunks", func() {
				input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
					"data: [DONE]\n\n"
				events := parseAll(input)
				Expect(events).To(HaveLen(2))
				Expect(events[0].DataIs("{\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}")).To(BeTrue())
				Expect(events[1].DataIs("[DONE]")).To(BeTrue())
			})
		})

		Context("with events split across chunks", func() {
			It("dispatches an event only once its blank line arrives", func() {
				r := &EventReader{}

				Expect(feed(r, []byte("event: push\ndata"))).To(BeEmpty())
				Expect(r.Pending()).To(BeTrue())

				Expect(feed(r, []byte(": 123456\nid: 1\n\n"))).To(Equal([]Event{
					{Type: String("push"), Data: String("123456"), ID: String("1")},
				}))
				Expect(r.Pending()).To(BeFalse())
			})

			It("reassembles a multi-byte character split by a chunk boundary", func() {
				r := &EventReader{}

				Expect(feed(r, []byte("data: \xd0\x90\xd0"))).To(BeEmpty())
				Expect(feed(r, []byte("\x91\xd0\x92\n\n"))).To(Equal([]Event{
					{Data: String("АБВ")},
				}))
			})

			It("reassembles a field name split from its value", func() {
				r := &EventReader{}

				Expect(feed(r, []byte("data"))).To(BeEmpty())
				Expect(feed(r, []byte(": АБВ\n\n"))).To(Equal([]Event{
					{Data: String("АБВ")},
				}))
			})

			It("reassembles a CRLF split between CR and LF", func() {
				r := &EventReader{}
				Expect(feed(r, []byte("data: a\r"), []byte("\n\r"), []byte("\n"))).To(Equal([]Event{
					{Data: String("a")},
				}))
			})

			It("yields the same events for every split of the stream", func() {
				stream := "event: push\r\ndata: АБВ😀\ndata: line two\nid: 7\nretry: 1500\n\n" +
					": keep-alive\n\n" +
					"data: {\"choices\":[{\"delta\":{\"content\":\"Привет\"}}]}\r\n\r\n" +
					"data: [DONE]\n\n"
				expected := parseAll(stream)
				Expect(expected).To(HaveLen(3))

				b := []byte(stream)
				for i := 0; i <= len(b); i++ {
					for j := i; j <= len(b); j += 7 {
						got := feed(&EventReader{}, b[:i], b[i:j], b[j:])
						Expect(got).To(Equal(expected), "split at %d and %d", i, j)
					}
				}
			})

			It("yields the same events when fed one byte at a time", func() {
				stream := "data: Ж\ndata: 日本\n\nid: 1\n\n"
				expected := parseAll(stream)

				r := &EventReader{}
				var chunks [][]byte
				for i := range len(stream) {
					chunks = append(chunks, []byte{stream[i]})
				}
				Expect(feed(r, chunks...)).To(Equal(expected))
			})
		})

		Context("when the caller does not drain the sequence", func() {
			It("resumes after an early break", func() {
				r := &EventReader{}

				events, err := r.NextEvents([]byte("data: 1\n\ndata: 2\n\n"))
				Expect(err).NotTo(HaveOccurred())
				for ev := range events {
					Expect(ev.DataIs("1")).To(BeTrue())
					break
				}

				Expect(feed(r, []byte("data: 3\n\n"))).To(Equal([]Event{
					{Data: String("2")},
					{Data: String("3")},
				}))
			})

			It("keeps all text when the sequence is never ranged over", func() {
				r := &EventReader{}

				_, err := r.NextEvents([]byte("data: 1\n\n"))
				Expect(err).NotTo(HaveOccurred())

				Expect(feed(r, []byte("data: 2\n\n"))).To(Equal([]Event{
					{Data: String("1")},
					{Data: String("2")},
				}))
			})
		})

		Context("with invalid UTF-8", func() {
			It("fails on malformed bytes", func() {
				r := &EventReader{}
				_, err := r.NextEvents([]byte("data: \xff\n\n"))
				Expect(err).To(MatchError(ErrInvalidUTF8))
			})

			It("fails when a carried-over sequence is not completed", func() {
				r := &EventReader{}
				Expect(feed(r, []byte("data: \xd0"))).To(BeEmpty())

				_, err := r.NextEvents([]byte("A\n\n"))
				Expect(err).To(MatchError(ErrInvalidUTF8))
			})

			It("stays failed after the first error", func() {
				r := &EventReader{}
				_, err := r.NextEvents([]byte("\xc0\xaf"))
				Expect(err).To(HaveOccurred())

				_, err = r.NextEvents([]byte("data: fine\n\n"))
				Expect(err).To(MatchError(ErrInvalidUTF8))
			})

			It("accepts an encoded replacement character", func() {
				Expect(parseAll("data: \xef\xbf\xbd\n\n")).To(Equal([]Event{
					{Data: String("�")},
				}))
			})
		})
	})
})
