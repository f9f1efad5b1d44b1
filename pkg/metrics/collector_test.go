package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/relay/pkg/metrics"
)

var _ = Describe("Collector", func() {
	var c *metrics.Collector

	BeforeEach(func() {
		c = metrics.NewCollector()
	})

	It("counts requests by backend, stream mode and outcome", func() {
		c.RecordRequest("openai", true, metrics.OutcomeOK, 120*time.Millisecond)
		c.RecordRequest("openai", true, metrics.OutcomeOK, 80*time.Millisecond)
		c.RecordRequest("llama", false, metrics.OutcomeError, time.Second)

		expected := `
# HELP relay_requests_total Chat completion requests handled, by backend kind, streaming mode and outcome.
# TYPE relay_requests_total counter
relay_requests_total{backend="llama",outcome="error",stream="false"} 1
relay_requests_total{backend="openai",outcome="ok",stream="true"} 2
`
		Expect(testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "relay_requests_total")).To(Succeed())
	})

	It("counts dials with their outcome", func() {
		c.RecordDial("https", true, nil)
		c.RecordDial("http", false, errors.New("connection refused"))

		n, err := testutil.GatherAndCount(c.Registry(), "relay_backend_dials_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("tracks active sessions", func() {
		c.SessionOpened()
		c.SessionOpened()
		c.SessionClosed()

		expected := `
# HELP relay_sessions_active Client connections holding a proxy session.
# TYPE relay_sessions_active gauge
relay_sessions_active 1
`
		Expect(testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "relay_sessions_active")).To(Succeed())
	})

	It("serves the registry over HTTP", func() {
		c.RecordEvent(metrics.EventDone)

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		body, err := io.ReadAll(rec.Result().Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`relay_sse_events_total{kind="done"} 1`))
	})

	Context("when nil", func() {
		It("records nothing and does not panic", func() {
			var nilCollector *metrics.Collector
			Expect(func() {
				nilCollector.RecordRequest("llama", false, metrics.OutcomeOK, time.Second)
				nilCollector.RecordDial("http", false, nil)
				nilCollector.RecordEvent(metrics.EventChunk)
				nilCollector.SessionOpened()
				nilCollector.SessionClosed()
			}).NotTo(Panic())
			Expect(nilCollector.Registry()).To(BeNil())

			rec := httptest.NewRecorder()
			nilCollector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
