package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/papercomputeco/relay/pkg/backend"
	"github.com/papercomputeco/relay/pkg/metrics"
)

var _ = Describe("ReverseProxy", func() {
	var (
		ctx    context.Context
		dialer *countingDialer
	)

	BeforeEach(func() {
		ctx = context.Background()
		dialer = &countingDialer{}
	})

	newProxy := func(fb *fakeBackend, kind BackendKind, opts ...Option) *ReverseProxy {
		cfg, err := NewConfig(fb.URL, kind, opts...)
		Expect(err).NotTo(HaveOccurred())
		p := NewReverseProxy(cfg, dialer, nil, nil)
		DeferCleanup(p.Close)
		return p
	}

	completion := func(stream *bool) *Request {
		return &Request{
			Path: "/chat/completions",
			Body: chatBody("llama3", stream, userMessage("Hi")),
		}
	}

	It("relays a completion", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, LlamaStyle, WithSystemPrompt("Be brief."))

		resp, err := p.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ContentType).To(Equal("application/json"))
		Expect(string(resp.Body)).To(MatchJSON(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}]}`))

		call := fb.LastCall()
		Expect(call.Method).To(Equal(http.MethodPost))
		Expect(call.Path).To(Equal("/chat/completions"))
		Expect(call.Header.Get("User-Agent")).To(BeEmpty())
		Expect(call.Body).To(HaveKeyWithValue("stream", false))
		Expect(call.Body).To(HaveKeyWithValue("model", "llama3"))
		Expect(call.Body["messages"]).To(HaveLen(2))
	})

	It("relays a stream", func() {
		fb := newFakeBackend(respondEvents(streamChunks...))
		p := newProxy(fb, LlamaStyle)

		resp, err := p.Handle(ctx, completion(boolPtr(true)))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ContentType).To(Equal("text/event-stream"))

		out, err := io.ReadAll(resp.Stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Stream.Close()).To(Succeed())

		data := dataOf(string(out))
		Expect(data).To(HaveLen(4))
		Expect(data[2]).To(MatchJSON(`{"choices":[{"delta":{"role":"assistant","content":null},"index":0,"finish_reason":"stop"}]}`))
		Expect(data[3]).To(Equal("[DONE]"))
		Expect(fb.LastCall().Body).To(HaveKeyWithValue("stream", true))
	})

	It("talks to OpenAI-style backends with a bearer token", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, OpenAIStyle, WithAPIKey("sk-test"))

		_, err := p.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())

		call := fb.LastCall()
		Expect(call.Path).To(Equal("/v1/chat/completions"))
		Expect(call.Header.Get("Authorization")).To(Equal("Bearer sk-test"))
		Expect(call.Body).To(HaveKeyWithValue("model", "gpt-4o-mini"))
	})

	It("reuses one backend connection for sequential requests", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, LlamaStyle)

		for range 3 {
			_, err := p.Handle(ctx, completion(nil))
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(fb.Calls()).To(HaveLen(3))
		Expect(dialer.dials.Load()).To(BeEquivalentTo(1))
		Expect(fb.conns.Load()).To(BeEquivalentTo(1))
	})

	It("reuses the connection after a fully read stream", func() {
		fb := newFakeBackend(respondEvents(streamChunks...))
		p := newProxy(fb, LlamaStyle)

		for range 2 {
			resp, err := p.Handle(ctx, completion(boolPtr(true)))
			Expect(err).NotTo(HaveOccurred())
			_, err = io.ReadAll(resp.Stream)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Stream.Close()).To(Succeed())
		}

		Expect(dialer.dials.Load()).To(BeEquivalentTo(1))
	})

	It("reconnects once the backend has closed the connection", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, LlamaStyle)

		_, err := p.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())

		fb.CloseClientConnections()
		Eventually(func() bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.conn.Closed()
		}).Should(BeTrue())

		_, err = p.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(dialer.dials.Load()).To(BeEquivalentTo(2))
		Expect(fb.conns.Load()).To(BeEquivalentTo(2))
	})

	It("never shares a connection between proxies", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		a := newProxy(fb, LlamaStyle)
		b := newProxy(fb, LlamaStyle)

		_, err := a.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())
		_, err = b.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())

		Expect(fb.conns.Load()).To(BeEquivalentTo(2))
	})

	It("returns backend errors as StatusError and keeps the connection", func() {
		fb := newFakeBackend(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		})
		p := newProxy(fb, LlamaStyle)

		_, err := p.Handle(ctx, completion(nil))
		var statusErr *StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(statusErr.Body).To(Equal("model not loaded"))

		_, err = p.Handle(ctx, completion(nil))
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(dialer.dials.Load()).To(BeEquivalentTo(1))
	})

	It("rejects bad requests without dialing", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, LlamaStyle)

		_, err := p.Handle(ctx, &Request{Path: "/chat/completions", Body: []byte("{")})
		Expect(err).To(MatchError(ErrInvalidRequest))
		Expect(dialer.dials.Load()).To(BeZero())
	})

	It("reports unreachable backends", func() {
		fb := newFakeBackend(respondJSON(completionJSON))
		p := newProxy(fb, LlamaStyle)
		fb.Close()

		_, err := p.Handle(ctx, completion(nil))
		Expect(err).To(MatchError(ContainSubstring("connecting to backend")))
	})

	It("aborts a request when the context ends before the response", func() {
		release := make(chan struct{})
		fb := newFakeBackend(func(w http.ResponseWriter, r *http.Request) {
			<-release
		})
		DeferCleanup(func() { close(release) })
		p := newProxy(fb, LlamaStyle)

		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := p.Handle(short, completion(nil))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("records each request's outcome", func() {
		m := metrics.NewCollector()
		fb := newFakeBackend(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.RawQuery, "fail") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			respondJSON(completionJSON)(w, r)
		})
		cfg, err := NewConfig(fb.URL, LlamaStyle)
		Expect(err).NotTo(HaveOccurred())
		p := NewReverseProxy(cfg, &backend.Dialer{Metrics: m}, nil, m)
		DeferCleanup(p.Close)

		_, err = p.Handle(ctx, completion(nil))
		Expect(err).NotTo(HaveOccurred())
		_, err = p.Handle(ctx, &Request{Path: "/chat/completions", RawQuery: "fail=1", Body: chatBody("llama3", nil)})
		Expect(err).To(HaveOccurred())
		_, err = p.Handle(ctx, &Request{Path: "/nope"})
		Expect(err).To(HaveOccurred())

		expected := `
# HELP relay_requests_total Chat completion requests handled, by backend kind, streaming mode and outcome.
# TYPE relay_requests_total counter
relay_requests_total{backend="llama",outcome="backend_status",stream="false"} 1
relay_requests_total{backend="llama",outcome="error",stream="false"} 1
relay_requests_total{backend="llama",outcome="ok",stream="false"} 1
`
		Expect(testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "relay_requests_total")).To(Succeed())
		Expect(testutil.GatherAndCount(m.Registry(), "relay_backend_dials_total")).To(Equal(1))
	})
})
