package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Truncate", func() {
	DescribeTable("shortens long strings",
		func(s string, maxLen int, expected string) {
			Expect(Truncate(s, maxLen)).To(Equal(expected))
		},
		Entry("within the limit", "short", 10, "short"),
		Entry("exactly at the limit", "12345", 5, "12345"),
		Entry("over the limit", "this is a long string", 10, "this is a ..."),
		Entry("multi-byte runes", "Привет, мир", 6, "Привет..."),
		Entry("empty", "", 3, ""),
	)
})
