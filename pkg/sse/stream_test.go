package sse

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	Describe("Next", func() {
		It("parses multiple events", func() {
			r := NewReader(strings.NewReader("data: first\n\ndata: second\n\n"))

			ev1, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev1.DataIs("first")).To(BeTrue())

			ev2, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev2.DataIs("second")).To(BeTrue())

			ev3, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev3).To(BeNil())
		})

		It("reassembles events from one-byte reads", func() {
			src := iotest.OneByteReader(strings.NewReader("event: delta\ndata: Привет\n\ndata: [DONE]\n\n"))
			r := NewReader(src)

			ev, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(*ev).To(Equal(Event{Type: String("delta"), Data: String("Привет")}))

			ev, err = r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.DataIs("[DONE]")).To(BeTrue())

			ev, err = r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(BeNil())
		})

		It("drops an undispatched event at end of stream", func() {
			r := NewReader(strings.NewReader("data: a\n\ndata: b"))

			ev, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.DataIs("a")).To(BeTrue())

			ev, err = r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(BeNil())
		})

		It("returns source errors", func() {
			boom := errors.New("boom")
			r := NewReader(io.MultiReader(strings.NewReader("data: a\n\n"), iotest.ErrReader(boom)))

			ev, err := r.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.DataIs("a")).To(BeTrue())

			_, err = r.Next()
			Expect(err).To(MatchError(boom))
		})

		It("returns decode errors", func() {
			r := NewReader(strings.NewReader("data: \xff\n\n"))
			_, err := r.Next()
			Expect(err).To(MatchError(ErrInvalidUTF8))
		})
	})
})
