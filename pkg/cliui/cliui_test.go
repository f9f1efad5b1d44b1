package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/cliui"
)

var _ = Describe("cliui", func() {
	Describe("FormatDuration", func() {
		DescribeTable("formats for display",
			func(d time.Duration, expected string) {
				Expect(cliui.FormatDuration(d)).To(Equal(expected))
			},
			Entry("milliseconds", 12*time.Millisecond, "12ms"),
			Entry("zero", time.Duration(0), "0ms"),
			Entry("seconds", 3200*time.Millisecond, "3.2s"),
		)
	})

	Describe("Mark", func() {
		It("picks the mark from the error", func() {
			Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
			Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
		})
	})

	Describe("Step", func() {
		It("returns the function's error and prints the result line", func() {
			var buf bytes.Buffer
			boom := errors.New("boom")

			err := cliui.Step(&buf, "dialing backend", func() error { return boom })
			Expect(err).To(MatchError(boom))
			Expect(buf.String()).To(ContainSubstring("dialing backend"))
			Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
			Expect(buf.String()).To(HaveSuffix("\n"))
		})
	})
})
